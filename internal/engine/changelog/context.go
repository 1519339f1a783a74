package changelog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

var contextToken = regexp.MustCompile(`[A-Za-z0-9_$.\-]+`)

// MatchContext reports whether a changeset context expression is active for
// scope. Scope is a comma separated list of context names. An empty scope or
// an empty expression always matches.
//
// Expressions use changelog syntax: "," and "or" for disjunction, "and",
// "!" and "not" for negation, parentheses for grouping. Names are compared
// case-insensitively.
func MatchContext(expression, scope string) (bool, error) {
	expression = strings.TrimSpace(expression)
	active := splitList(scope)
	if expression == "" || len(active) == 0 {
		return true, nil
	}

	env := make(map[string]interface{})
	names := make(map[string]string)
	translated := contextToken.ReplaceAllStringFunc(expression, func(tok string) string {
		lower := strings.ToLower(tok)
		switch lower {
		case "and", "or", "not":
			return lower
		}
		if v, ok := names[lower]; ok {
			return v
		}
		v := fmt.Sprintf("c%d", len(names))
		names[lower] = v
		env[v] = active[lower]
		return v
	})
	translated = strings.ReplaceAll(translated, ",", " or ")

	program, err := expr.Compile(translated, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("invalid context expression %q: %w", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate context expression %q: %w", expression, err)
	}
	matched, _ := out.(bool)
	return matched, nil
}

// MatchDBMS reports whether a changeset dbms list applies to dbms. Entries
// prefixed with "!" exclude a database; "all" and "none" are honoured.
func MatchDBMS(list, dbms string) bool {
	dbms = strings.ToLower(strings.TrimSpace(dbms))
	list = strings.TrimSpace(list)
	if list == "" || dbms == "" {
		return true
	}

	positive := false
	for name := range splitList(list) {
		switch {
		case name == "none":
			return false
		case name == "all":
			return true
		case strings.HasPrefix(name, "!"):
			if strings.TrimSpace(name[1:]) == dbms {
				return false
			}
		default:
			positive = true
			if name == dbms {
				return true
			}
		}
	}
	return !positive
}

func splitList(s string) map[string]bool {
	out := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out[part] = true
		}
	}
	return out
}
