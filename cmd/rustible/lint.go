package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/rustible/rustible/internal/analysis"
	"github.com/rustible/rustible/internal/errs"
	"github.com/rustible/rustible/internal/model"
)

func newLintCmd() *cobra.Command {
	var (
		format      string
		minSeverity string
		watch       bool
		ignore      []string
	)

	cmd := &cobra.Command{
		Use:     "lint <playbook>...",
		Aliases: []string{"analyze"},
		Short:   "statically analyze playbooks for undefined variables, dead code, cycles, and likely secrets",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sev, err := parseSeverity(minSeverity)
			if err != nil {
				return exitWithClass(errs.ExitParseOrSchema, err)
			}
			analyzer := analysis.New(analysis.AnalysisConfig{
				MinSeverity:    sev,
				IgnorePatterns: ignore,
			})

			runOnce := func() (bool, error) {
				anyError := false
				for _, path := range args {
					pb, err := model.LoadPlaybook(path)
					if err != nil {
						return false, exitWithClass(errs.ExitParseOrSchema, fmt.Errorf("load %s: %w", path, err))
					}
					report := analyzer.Analyze(pb)
					if err := printLintReport(format, path, report); err != nil {
						return false, err
					}
					for _, f := range report.Findings {
						if f.Severity >= analysis.SeverityError {
							anyError = true
						}
					}
				}
				return anyError, nil
			}

			anyError, err := runOnce()
			if err != nil {
				return err
			}

			if watch {
				return watchAndRelint(args, runOnce)
			}
			if anyError {
				return exitWithClass(errs.ExitParseOrSchema, fmt.Errorf("lint found error-level findings"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json, sarif")
	cmd.Flags().StringVar(&minSeverity, "min-severity", "hint", "minimum severity to report: hint, info, warning, error, critical")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-lint whenever a given playbook file changes")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "rule IDs to suppress, e.g. VAR002")

	return cmd
}

func parseSeverity(s string) (analysis.Severity, error) {
	switch s {
	case "hint":
		return analysis.SeverityHint, nil
	case "info":
		return analysis.SeverityInfo, nil
	case "warning":
		return analysis.SeverityWarning, nil
	case "error":
		return analysis.SeverityError, nil
	case "critical":
		return analysis.SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown --min-severity %q", s)
	}
}

func printLintReport(format, path string, report analysis.AnalysisReport) error {
	switch format {
	case "json", "sarif":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"file":     path,
			"findings": report.Findings,
		})
	default:
		for _, f := range report.Findings {
			fmt.Printf("%s:%d: [%s] %s: %s\n", path, f.Location.TaskIndex, f.RuleID, f.Severity, f.Message)
		}
		return nil
	}
}

func watchAndRelint(paths []string, runOnce func() (bool, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return exitWithClass(errs.ExitInternal, fmt.Errorf("start watcher: %w", err))
	}
	defer watcher.Close()

	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			return exitWithClass(errs.ExitInternal, fmt.Errorf("watch %s: %w", p, err))
		}
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, err := runOnce(); err != nil {
				fmt.Fprintln(os.Stderr, "rustible:", err)
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, "rustible: watch error:", watchErr)
		}
	}
}
