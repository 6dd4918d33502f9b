package analysis

import (
	rustiblemetrics "github.com/rustible/rustible/infrastructure/metrics"
	"github.com/rustible/rustible/internal/model"
)

// AnalysisConfig selects which sub-analyzers run and tunes their
// thresholds. The zero value runs every analyzer at default thresholds.
type AnalysisConfig struct {
	DisableVariable   bool
	DisableDeadCode   bool
	DisableDependency bool
	DisableComplexity bool
	DisableSecurity   bool

	MinSeverity Severity
	Thresholds  ComplexityThresholds

	DisabledSecurityRules map[string]bool
	IgnorePatterns        []string
}

// AnalysisReport aggregates every sub-analyzer's findings plus the
// dependency graph and complexity metrics they were derived from.
type AnalysisReport struct {
	Findings   []Finding
	Graph      *Graph
	Metrics    []ComplexityMetrics
	ByCategory map[Category][]Finding
	BySeverity map[Severity][]Finding
}

// StaticAnalyzer runs the configured sub-analyzers over a parsed playbook
// and aggregates their output. It never touches the executor, a
// connection, or any live state — offline and stateless across runs.
type StaticAnalyzer struct {
	Config AnalysisConfig
}

// New builds a StaticAnalyzer with the given config.
func New(cfg AnalysisConfig) *StaticAnalyzer {
	return &StaticAnalyzer{Config: cfg}
}

// Analyze runs every enabled sub-analyzer against pb and aggregates the
// result into one AnalysisReport.
func (a *StaticAnalyzer) Analyze(pb *model.Playbook) AnalysisReport {
	var all []Finding
	graph := Build(pb)

	if !a.Config.DisableVariable {
		all = append(all, analyzeVariables(pb)...)
	}
	if !a.Config.DisableDeadCode {
		all = append(all, analyzeDeadCode(pb)...)
	}
	if !a.Config.DisableDependency {
		all = append(all, analyzeDependencies(pb, graph)...)
	}

	thresholds := a.Config.Thresholds
	if thresholds == (ComplexityThresholds{}) {
		thresholds = DefaultComplexityThresholds()
	}
	var complexityMetrics []ComplexityMetrics
	if !a.Config.DisableComplexity {
		var findings []Finding
		findings, complexityMetrics = analyzeComplexity(pb, thresholds)
		all = append(all, findings...)
	}

	if !a.Config.DisableSecurity {
		for _, f := range analyzeSecurity(pb) {
			if a.Config.DisabledSecurityRules[f.RuleID] {
				continue
			}
			all = append(all, f)
		}
	}

	var filtered []Finding
	for _, f := range all {
		if f.Severity < a.Config.MinSeverity {
			continue
		}
		if a.ignored(f) {
			continue
		}
		filtered = append(filtered, f)
	}

	report := AnalysisReport{
		Findings:   filtered,
		Graph:      graph,
		Metrics:    complexityMetrics,
		ByCategory: map[Category][]Finding{},
		BySeverity: map[Severity][]Finding{},
	}
	for _, f := range filtered {
		report.ByCategory[f.Category] = append(report.ByCategory[f.Category], f)
		report.BySeverity[f.Severity] = append(report.BySeverity[f.Severity], f)
		rustiblemetrics.Global().RecordFinding(f.RuleID, f.Severity.String())
	}
	return report
}

func (a *StaticAnalyzer) ignored(f Finding) bool {
	for _, pattern := range a.Config.IgnorePatterns {
		if pattern == f.RuleID {
			return true
		}
	}
	return false
}
