package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rustible/rustible/internal/model"
)

var (
	secretPatterns = []struct {
		RuleID string
		Name   string
		Re     *regexp.Regexp
	}{
		{"SEC001", "AWS access key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
		{"SEC002", "GitHub token", regexp.MustCompile(`gh[pousr]_[0-9A-Za-z]{36,}`)},
		{"SEC003", "PEM private key block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
		{"SEC004", "bearer token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.=]{20,}`)},
	}

	placeholderValues = map[string]bool{
		"changeme": true, "change_me": true, "todo": true, "fixme": true,
		"xxx": true, "<password>": true, "replace_me": true,
	}

	passwordKeyRe   = regexp.MustCompile(`(?i)(password|passwd|pwd|secret|api_?key|token)`)
	templateOnlyRe  = regexp.MustCompile(`^\s*\{\{.*\}\}\s*$`)
	plainHTTPRe     = regexp.MustCompile(`http://(?!localhost|127\.0\.0\.1)[^\s"']+`)
	shellInjectionRe = regexp.MustCompile(`\{\{\s*[^}|]+\s*\}\}`)

	sensitiveModules = map[string]bool{
		"command": true, "shell": true, "uri": true, "mysql_user": true, "user": true,
	}
	worldWritableModules = map[string]bool{
		"file": true, "copy": true, "template": true,
	}
)

func isPlaceholderOrTemplate(v string) bool {
	if templateOnlyRe.MatchString(v) {
		return true
	}
	return placeholderValues[strings.ToLower(strings.TrimSpace(v))]
}

// analyzeSecurity scans play/task variables and module args for likely
// secrets, missing no_log on sensitive modules, world-writable modes, and
// plain HTTP URLs.
func analyzeSecurity(pb *model.Playbook) []Finding {
	var findings []Finding

	scanValue := func(key, value string, loc Location) {
		if isPlaceholderOrTemplate(value) {
			return
		}
		for _, p := range secretPatterns {
			if p.Re.MatchString(value) {
				findings = append(findings, Finding{
					RuleID: p.RuleID, Category: CategorySecurity, Severity: SeverityCritical,
					Message:  fmt.Sprintf("possible %s found in %q", p.Name, key),
					Location: loc,
				})
			}
		}
		if passwordKeyRe.MatchString(key) && len(value) > 0 && !strings.Contains(value, "{{") {
			findings = append(findings, Finding{
				RuleID: "SEC005", Category: CategorySecurity, Severity: SeverityWarning,
				Message:  fmt.Sprintf("hardcoded credential-like value for %q", key),
				Location: loc,
			})
		}
		if plainHTTPRe.MatchString(value) {
			findings = append(findings, Finding{
				RuleID: "SEC006", Category: CategorySecurity, Severity: SeverityWarning,
				Message:  fmt.Sprintf("plain HTTP URL in %q; prefer HTTPS", key),
				Location: loc,
			})
		}
	}

	for playIdx := range pb.Plays {
		play := &pb.Plays[playIdx]
		for k, v := range play.Vars {
			if s, ok := v.(string); ok {
				scanValue(k, s, Location{PlayIndex: playIdx, PlayName: play.Name})
			}
		}

		walk := func(section string, tasks []model.Task) {
			var visit func(taskIdx int, t *model.Task)
			visit = func(taskIdx int, t *model.Task) {
				loc := Location{PlayIndex: playIdx, PlayName: play.Name, TaskIndex: taskIdx, TaskName: t.Name}
				if t.IsBlock() {
					for i := range t.Block {
						visit(i, &t.Block[i])
					}
					for i := range t.Rescue {
						visit(i, &t.Rescue[i])
					}
					for i := range t.Always {
						visit(i, &t.Always[i])
					}
					return
				}
				if t.Invocation == nil {
					return
				}

				for k, v := range t.Invocation.Args {
					if s, ok := v.(string); ok {
						scanValue(k, s, loc)
						if shellInjectionRe.MatchString(s) && (t.Invocation.Module == "shell" || t.Invocation.Module == "command") && !strings.Contains(s, `"{{`) && !strings.Contains(s, `'{{`) {
							findings = append(findings, Finding{
								RuleID: "SEC007", Category: CategorySecurity, Severity: SeverityWarning,
								Message:  fmt.Sprintf("unquoted template expansion in shell-family task %q may allow command injection", t.Name),
								Location: loc,
							})
						}
					}
					if worldWritableModules[t.Invocation.Module] && k == "mode" {
						if s, ok := v.(string); ok && (s == "0777" || s == "777" || s == "0666" || s == "666") {
							findings = append(findings, Finding{
								RuleID: "SEC008", Category: CategorySecurity, Severity: SeverityWarning,
								Message:  fmt.Sprintf("world-writable mode %q set by task %q", s, t.Name),
								Location: loc,
							})
						}
					}
				}

				if sensitiveModules[t.Invocation.Module] && !t.NoLog {
					for k := range t.Invocation.Args {
						if passwordKeyRe.MatchString(k) {
							findings = append(findings, Finding{
								RuleID: "SEC009", Category: CategorySecurity, Severity: SeverityWarning,
								Message:  fmt.Sprintf("task %q passes a credential-like argument without no_log", t.Name),
								Location: loc,
							})
							break
						}
					}
				}
			}
			for i := range tasks {
				visit(i, &tasks[i])
			}
		}
		walk("pre_tasks", play.PreTasks)
		walk("tasks", play.Tasks)
		walk("post_tasks", play.PostTasks)
	}

	return findings
}
