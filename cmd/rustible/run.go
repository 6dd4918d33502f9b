package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustible/rustible/infrastructure/middleware"
	"github.com/rustible/rustible/internal/config"
	"github.com/rustible/rustible/internal/connection"
	"github.com/rustible/rustible/internal/errs"
	"github.com/rustible/rustible/internal/executor"
	"github.com/rustible/rustible/internal/inventory"
	"github.com/rustible/rustible/internal/model"
	"github.com/rustible/rustible/internal/modules"
	"github.com/rustible/rustible/internal/recovery"
	"github.com/rustible/rustible/internal/state"
	"github.com/rustible/rustible/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	var (
		inventoryPath string
		limit         string
		tags          []string
		checkMode     bool
		diffMode      bool
		forks         int
		extraVarsRaw  []string
		privateKey    string
		sshUser       string
		telemetryAddr   string
		telemetrySecret string
		otlpEndpoint    string
	)

	cmd := &cobra.Command{
		Use:     "run <playbook>",
		Aliases: []string{"play"},
		Short:   "run a playbook against an inventory",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				return exitWithClass(errs.ExitParseOrSchema, fmt.Errorf("load config: %w", err))
			}
			if inventoryPath == "" {
				inventoryPath = cfg.Inventory
			}
			if forks == 0 {
				forks = cfg.Forks
			}

			pb, err := model.LoadPlaybook(args[0])
			if err != nil {
				return exitWithClass(errs.ExitParseOrSchema, fmt.Errorf("load playbook: %w", err))
			}
			inv, err := inventory.Load(inventoryPath)
			if err != nil {
				return exitWithClass(errs.ExitParseOrSchema, fmt.Errorf("load inventory: %w", err))
			}

			extraVars, err := parseExtraVars(extraVarsRaw)
			if err != nil {
				return exitWithClass(errs.ExitParseOrSchema, fmt.Errorf("parse extra-vars: %w", err))
			}

			registry := modules.NewRegistry()
			registry.Register(modules.NewCommand())
			registry.Register(modules.NewDebug())
			registry.Register(modules.NewSetup())

			pool := connection.NewPool(map[string]connection.Dialer{
				"local": connection.DialerFunc(func(ctx context.Context, host, user string) (connection.Connection, error) {
					return connection.NewLocal(), nil
				}),
				"ssh": connection.DialerFunc(func(ctx context.Context, host, user string) (connection.Connection, error) {
					if user == "" {
						user = sshUser
					}
					return connection.DialSSH(ctx, connection.SSHConfig{
						Host:           host,
						User:           user,
						PrivateKeyPath: privateKey,
						DialTimeout:    cfg.ConnectionTimeout(),
					})
				}),
			}, nil)
			defer pool.CloseAll()

			exec := executor.New(registry, pool, cfg.Scheme, executor.Options{
				CheckMode: checkMode,
				DiffMode:  diffMode,
				Forks:     forks,
				Limit:     limit,
				Tags:      tags,
				ExtraVars: extraVars,
			})

			checkpoints, err := recovery.NewCheckpointStore(recovery.DefaultCheckpointConfig())
			if err != nil {
				logger.WithError(err).Warn("checkpoint store unavailable; continuing without crash recovery")
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if otlpEndpoint != "" || os.Getenv("RUSTIBLE_OTLP_ENDPOINT") != "" {
				if otlpEndpoint == "" {
					otlpEndpoint = os.Getenv("RUSTIBLE_OTLP_ENDPOINT")
				}
				_, shutdown, err := telemetry.NewTracerProvider(ctx, telemetry.TracerConfig{
					ServiceName: "rustible",
					Endpoint:    otlpEndpoint,
				})
				if err != nil {
					logger.WithError(err).Warn("tracer provider unavailable; continuing without tracing")
				} else {
					defer shutdown(ctx)
				}
			}

			store := state.New(pb.SourcePath, nil)
			var telemetrySrv *http.Server
			if telemetryAddr != "" {
				if telemetrySecret == "" {
					telemetrySecret = os.Getenv("RUSTIBLE_TELEMETRY_SECRET")
				}
				telemetrySrv = &http.Server{Addr: telemetryAddr, Handler: telemetry.NewServerWithSecret("rustible", store, telemetrySecret).Handler()}
				go func() {
					if err := telemetrySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.WithError(err).Warn("telemetry server stopped")
					}
				}()
			}

			shutdown := middleware.NewGracefulShutdown(telemetrySrv, 10*time.Second)
			shutdown.OnShutdown(cancel)
			if checkpoints != nil {
				shutdown.OnShutdown(func() { _ = checkpoints.Close(ctx) })
			}
			shutdown.ListenForSignals()

			start := time.Now()
			res, err := exec.RunPlaybook(ctx, pb, inv)
			if err != nil {
				return exitWithClass(errs.ExitInternal, fmt.Errorf("run playbook: %w", err))
			}

			replayIntoStore(store, res)

			stats := res.Stats()
			logger.WithField("duration", time.Since(start)).
				WithField("ok", stats.Ok).
				WithField("changed", stats.Changed).
				WithField("failed", stats.Failed).
				WithField("unreachable", stats.Unreachable).
				Info("playbook run complete")

			if checkpoints != nil {
				_ = checkpoints.Close(ctx)
			}

			if telemetrySrv != nil {
				_ = telemetrySrv.Shutdown(ctx)
			}

			return exitForResult(res, stats)
		},
	}

	cmd.Flags().StringVar(&inventoryPath, "inventory", "", "inventory path (overrides rustible.toml)")
	cmd.Flags().StringVar(&limit, "limit", "", "additional host pattern to intersect with each play's hosts")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "only run tasks matching these tags")
	cmd.Flags().BoolVar(&checkMode, "check", false, "dry run: report what would change without applying it")
	cmd.Flags().BoolVar(&diffMode, "diff", false, "show before/after diffs for changed tasks")
	cmd.Flags().IntVar(&forks, "forks", 0, "max simultaneous hosts (0 uses rustible.toml default)")
	cmd.Flags().StringArrayVar(&extraVarsRaw, "extra-vars", nil, "key=value extra variable, may be repeated")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "SSH private key path")
	cmd.Flags().StringVar(&sshUser, "user", "root", "default SSH user when a host has no ansible_user")
	cmd.Flags().StringVar(&telemetryAddr, "telemetry-addr", "", "serve /metrics, /healthz and /events on this address (disabled when empty)")
	cmd.Flags().StringVar(&telemetrySecret, "telemetry-secret", "", "shared secret gating /events (falls back to RUSTIBLE_TELEMETRY_SECRET, unauthenticated when both are empty)")
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP/gRPC collector address for span export (stderr stdout export when empty and RUSTIBLE_OTLP_ENDPOINT unset)")

	return cmd
}

// replayIntoStore feeds every task record from a completed run through store
// so that /events subscribers and snapshot tooling observe the run even
// though the executor itself has no live hook into internal/state today.
func replayIntoStore(store *state.Store, res *executor.Result) {
	for _, t := range res.Tasks {
		store.StartTask(state.TaskStateRecord{
			TaskID:    t.TaskID,
			Host:      t.Host,
			Module:    t.Module,
			Args:      t.Args,
			StartedAt: t.StartedAt,
		})
		_ = store.FinishTask(t.Host, t.TaskID, state.TaskStatus(t.Status), nil, t.Stdout, t.Stderr, t.RC)
	}
}

func parseExtraVars(raw []string) (map[string]any, error) {
	out := map[string]any{}
	for _, kv := range raw {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid --extra-vars %q: expected key=value", kv)
		}
		out[kv[:idx]] = kv[idx+1:]
	}
	return out, nil
}

func exitForResult(res *executor.Result, stats executor.ExecutionStats) error {
	if res.AnyFailedPermanently() {
		return exitWithClass(errs.ExitHostFailure, fmt.Errorf("one or more hosts failed"))
	}
	if stats.Unreachable > 0 {
		return exitWithClass(errs.ExitUnreachable, fmt.Errorf("one or more hosts were unreachable"))
	}
	return nil
}

// exitWithClass prints err and terminates the process with the exit code
// the documented failure class maps to, rather than cobra's default 1.
func exitWithClass(class errs.ExitClass, err error) error {
	fmt.Fprintln(os.Stderr, "rustible:", err)
	os.Exit(int(class))
	return nil
}
