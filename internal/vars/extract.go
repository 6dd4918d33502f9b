package vars

import (
	"regexp"
	"strings"
)

// reservedIdentifiers are never reported as variable references: boolean
// operators, literals, and the well-known task-result predicates templates
// and conditions may reference.
var reservedIdentifiers = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true,
	"true": true, "false": true, "none": true,
	"defined": true, "undefined": true,
	"succeeded": true, "failed": true, "skipped": true, "changed": true,
}

var (
	identifierRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	rootChainRe  = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)(?:\.[A-Za-z_][A-Za-z0-9_]*|\[[^\]]*\])*`)
)

// ExtractTemplateIdentifiers returns the distinct root identifiers
// referenced by every {{ expr }} substitution in s (e.g. "{{ foo.bar |
// upper }}" yields "foo"). Pure and deterministic: used by both the
// executor (for dependency ordering) and the static analyzer.
func ExtractTemplateIdentifiers(s string) []string {
	var roots []string
	seen := map[string]bool{}
	for _, m := range templateExpr.FindAllStringSubmatch(s, -1) {
		for _, root := range extractRoots(m[1]) {
			if !seen[root] {
				seen[root] = true
				roots = append(roots, root)
			}
		}
	}
	return roots
}

// ExtractConditionIdentifiers returns the distinct bare identifiers
// referenced by a condition expression (no surrounding {{ }}), excluding
// the reserved operator/literal/predicate set.
func ExtractConditionIdentifiers(cond string) []string {
	return extractRoots(cond)
}

// extractRoots walks a pipe-chain expression, extracting identifiers from
// the base expression and from every filter's arguments, while excluding
// the filter names themselves and any other function-call identifiers.
func extractRoots(expr string) []string {
	var roots []string
	seen := map[string]bool{}
	add := func(list []string) {
		for _, root := range list {
			if !seen[root] {
				seen[root] = true
				roots = append(roots, root)
			}
		}
	}

	stages := splitTopLevelPipe(expr)
	add(extractRootsIgnoringCalls(stages[0]))
	for _, stage := range stages[1:] {
		stage = strings.TrimSpace(stage)
		if idx := strings.IndexByte(stage, '('); idx >= 0 {
			add(extractRootsIgnoringCalls(stage[idx+1:]))
		}
	}
	return roots
}

func extractRootsIgnoringCalls(expr string) []string {
	expr = blankQuotedLiterals(expr)
	var roots []string
	seen := map[string]bool{}
	for _, chain := range rootChainRe.FindAllString(expr, -1) {
		root := identifierRe.FindString(chain)
		if root == "" || reservedIdentifiers[root] || isFilterCall(expr, chain) {
			continue
		}
		if !seen[root] {
			seen[root] = true
			roots = append(roots, root)
		}
	}
	return roots
}

// isFilterCall reports whether chain is immediately followed by '(' in
// expr, i.e. it names a function/filter rather than a variable.
func isFilterCall(expr, chain string) bool {
	idx := indexOfWholeMatch(expr, chain)
	if idx < 0 {
		return false
	}
	end := idx + len(chain)
	for end < len(expr) && expr[end] == ' ' {
		end++
	}
	return end < len(expr) && expr[end] == '('
}

// blankQuotedLiterals replaces the contents of single- and double-quoted
// substrings with spaces, so string literal filter arguments (e.g.
// default('latest')) are never mistaken for variable identifiers.
func blankQuotedLiterals(expr string) string {
	b := []byte(expr)
	var quote byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				b[i] = ' '
			}
		case c == '\'' || c == '"':
			quote = c
		}
	}
	return string(b)
}

func indexOfWholeMatch(expr, sub string) int {
	loc := rootChainRe.FindAllStringIndex(expr, -1)
	for _, l := range loc {
		if expr[l[0]:l[1]] == sub {
			return l[0]
		}
	}
	return -1
}
