package vars

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PaesslerAG/gval"

	"github.com/rustible/rustible/internal/errs"
)

// templateExpr matches a single {{ ... }} substitution.
var templateExpr = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Evaluator compiles and runs Jinja-compatible template and condition
// expressions against a variable scope. The filter catalogue is: default,
// upper, lower, length, int, float, bool.
type Evaluator struct {
	lang gval.Language
}

// NewEvaluator builds an Evaluator with the documented filter catalogue
// wired in as gval functions, since gval has no native pipe-filter syntax;
// templates invoke filters as `filter(expr, args...)` internally after
// parseFilters rewrites `expr | filter` into that form.
func NewEvaluator() *Evaluator {
	lang := gval.NewLanguage(
		gval.Full(),
		gval.Function("default", filterDefault),
		gval.Function("upper", filterUpper),
		gval.Function("lower", filterLower),
		gval.Function("length", filterLength),
		gval.Function("int", filterInt),
		gval.Function("float", filterFloat),
		gval.Function("bool", filterBool),
	)
	return &Evaluator{lang: lang}
}

func filterDefault(value any, fallback any) any {
	if value == nil {
		return fallback
	}
	if s, ok := value.(string); ok && s == "" {
		return fallback
	}
	return value
}

func filterUpper(value any) any {
	return strings.ToUpper(fmt.Sprint(value))
}

func filterLower(value any) any {
	return strings.ToLower(fmt.Sprint(value))
}

func filterLength(value any) any {
	switch v := value.(type) {
	case string:
		return len(v)
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	default:
		return 0
	}
}

func filterInt(value any) any {
	switch v := value.(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func filterFloat(value any) any {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0.0
		}
		return f
	default:
		return 0.0
	}
}

func filterBool(value any) any {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true
		default:
			return false
		}
	case int:
		return v != 0
	case float64:
		return v != 0
	default:
		return value != nil
	}
}

// parseFilters rewrites `expr | filter | filter2(arg)`-style Jinja filter
// chains into nested function-call syntax gval can parse directly.
func parseFilters(expr string) string {
	parts := splitTopLevelPipe(expr)
	if len(parts) == 1 {
		return expr
	}
	out := strings.TrimSpace(parts[0])
	for _, stage := range parts[1:] {
		stage = strings.TrimSpace(stage)
		if idx := strings.Index(stage, "("); idx >= 0 && strings.HasSuffix(stage, ")") {
			name := stage[:idx]
			args := stage[idx+1 : len(stage)-1]
			if strings.TrimSpace(args) == "" {
				out = fmt.Sprintf("%s(%s)", name, out)
			} else {
				out = fmt.Sprintf("%s(%s, %s)", name, out, args)
			}
		} else {
			out = fmt.Sprintf("%s(%s)", stage, out)
		}
	}
	return out
}

// splitTopLevelPipe splits on '|' that is not inside parentheses or quotes,
// so filter arguments containing '|' are not mis-split.
func splitTopLevelPipe(expr string) []string {
	var parts []string
	depth := 0
	inQuote := byte(0)
	last := 0
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '|' && depth == 0:
			parts = append(parts, expr[last:i])
			last = i + 1
		}
	}
	parts = append(parts, expr[last:])
	return parts
}

// EvaluateExpr evaluates a single Jinja-style expression (no surrounding
// {{ }}) against vars, returning its raw result.
func (e *Evaluator) EvaluateExpr(expr string, scope *Scope) (any, error) {
	rewritten := parseFilters(strings.TrimSpace(expr))
	result, err := e.lang.Evaluate(rewritten, scope.Flatten())
	if err != nil {
		return nil, errs.Wrap(errs.TemplateError, fmt.Sprintf("evaluating %q", expr), err)
	}
	return result, nil
}

// RenderString substitutes every {{ expr }} occurrence in s. A string that
// is a single whole-string substitution (e.g. "{{ foo }}") preserves the
// substituted value's type; a string with embedded or multiple
// substitutions is rendered to its string form and concatenated.
func (e *Evaluator) RenderString(s string, scope *Scope) (any, error) {
	matches := templateExpr.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := s[matches[0][2]:matches[0][3]]
		return e.EvaluateExpr(expr, scope)
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])
		expr := s[m[2]:m[3]]
		val, err := e.EvaluateExpr(expr, scope)
		if err != nil {
			return nil, err
		}
		sb.WriteString(fmt.Sprint(val))
		last = m[1]
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

// RenderValue walks arbitrary JSON-shaped data (the module args/environment
// shape), rendering every string leaf and leaving other types untouched.
func (e *Evaluator) RenderValue(value any, scope *Scope) (any, error) {
	switch v := value.(type) {
	case string:
		return e.RenderString(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			rendered, err := e.RenderValue(child, scope)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			rendered, err := e.RenderValue(child, scope)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// EvaluateCondition evaluates a list of condition expressions (when,
// changed_when, failed_when, until), ANDing them together. An empty list
// is unconditionally true.
func (e *Evaluator) EvaluateCondition(ctx context.Context, conditions []string, scope *Scope) (bool, error) {
	for _, cond := range conditions {
		result, err := e.EvaluateExpr(cond, scope)
		if err != nil {
			return false, err
		}
		truthy, ok := asBool(result)
		if !ok {
			return false, errs.New(errs.InvalidParameter, fmt.Sprintf("condition %q did not evaluate to a boolean", cond))
		}
		if !truthy {
			return false, nil
		}
	}
	return true, nil
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int:
		return b != 0, true
	case float64:
		return b != 0, true
	case string:
		return b != "", true
	case nil:
		return false, true
	default:
		return false, false
	}
}
