// Package rules implements the rule engine: a priority-ordered evaluator
// over nested boolean condition groups with short-circuit semantics,
// producing a RuleEffect. Field extraction, operators, and actions are
// registries of pure functions keyed by their closed enums.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/portcall/mailgate/internal/model"
)

// operatorFunc is the pure function shape every OperatorType resolves to:
// (extracted field, match value, case-sensitive) -> matched.
type operatorFunc func(field, match string, caseSensitive bool) (bool, string)

func foldCase(field, match string, caseSensitive bool) (string, string) {
	if caseSensitive {
		return field, match
	}
	return strings.ToLower(field), strings.ToLower(match)
}

var operatorHandlers = map[model.OperatorType]operatorFunc{
	model.OpContains: func(field, match string, cs bool) (bool, string) {
		f, m := foldCase(field, match, cs)
		return strings.Contains(f, m), ""
	},
	model.OpNotContains: func(field, match string, cs bool) (bool, string) {
		f, m := foldCase(field, match, cs)
		return !strings.Contains(f, m), ""
	},
	model.OpEquals: func(field, match string, cs bool) (bool, string) {
		f, m := foldCase(field, match, cs)
		return f == m, ""
	},
	model.OpNotEquals: func(field, match string, cs bool) (bool, string) {
		f, m := foldCase(field, match, cs)
		return f != m, ""
	},
	model.OpStartsWith: func(field, match string, cs bool) (bool, string) {
		f, m := foldCase(field, match, cs)
		return strings.HasPrefix(f, m), ""
	},
	model.OpEndsWith: func(field, match string, cs bool) (bool, string) {
		f, m := foldCase(field, match, cs)
		return strings.HasSuffix(f, m), ""
	},
	// regex: case-insensitivity is expressed as a regex flag rather than
	// folding either side. A malformed pattern evaluates to false and is
	// reported as a warning, never raised.
	model.OpRegex: func(field, match string, cs bool) (bool, string) {
		re, err := compileRegex(match, cs)
		if err != nil {
			return false, fmt.Sprintf("rules: malformed regex %q: %v", match, err)
		}
		return re.MatchString(field), ""
	},
	// not_regex inverts regex's true/false, but a malformed pattern
	// evaluates to true (not regex's false) so a broken expression never
	// spuriously skips a message that an intact "not_regex" would have
	// let through.
	model.OpNotRegex: func(field, match string, cs bool) (bool, string) {
		re, err := compileRegex(match, cs)
		if err != nil {
			return true, fmt.Sprintf("rules: malformed regex %q: %v", match, err)
		}
		return !re.MatchString(field), ""
	},
}

func compileRegex(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

// evaluateOperator applies op to field/match and returns the match result
// plus an optional warning (non-empty only for a malformed regex).
func evaluateOperator(op model.OperatorType, field, match string, caseSensitive bool) (bool, string) {
	fn, ok := operatorHandlers[op]
	if !ok {
		return false, fmt.Sprintf("rules: unsupported operator %q", op)
	}
	return fn(field, match, caseSensitive)
}
