package policy

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
)

// expr is the top-level "human policy" grammar: a disjunction of
// conjunctions of (possibly negated) atoms, where an atom is either a
// quoted attribute predicate like "role=FRONTEND@A" or a parenthesized
// sub-expression.
type expr struct {
	Or []*andExpr `parser:"@@ (\"OR\" @@)*"`
}

type andExpr struct {
	Terms []*notExpr `parser:"@@ (\"AND\" @@)*"`
}

type notExpr struct {
	Negated bool  `parser:"(@\"NOT\")?"`
	Atom    *atom `parser:"@@"`
}

type atom struct {
	Predicate *string `parser:"( @String"`
	Sub       *expr   `parser:"| \"(\" @@ \")\" )"`
}

var parser = participle.MustBuild[expr]()

// parse compiles a human-policy expression string into its AST, or returns
// a descriptive error for any syntactically invalid expression — including
// the unbalanced-parenthesis case from the grammar's edge cases.
func parse(expression string) (*expr, error) {
	e, err := parser.ParseString("", expression)
	if err != nil {
		return nil, fmt.Errorf("parsing policy expression: %w", err)
	}
	return e, nil
}

// Validate reports whether expression is syntactically valid. A
// syntactically valid expression that names an unknown attribute still
// parses here — evaluation at access time is what fails, per the
// parent-path register/update rule.
func Validate(expression string) error {
	_, err := parse(expression)
	return err
}

// splitPredicate splits a quoted predicate body on its first "=" into an
// attribute name and an expected value.
func splitPredicate(body string) (attr, value string) {
	idx := strings.IndexByte(body, '=')
	if idx < 0 {
		return body, ""
	}
	return body[:idx], body[idx+1:]
}

// evaluate walks the AST against the attribute map, returning true iff the
// expression is satisfied.
func (e *expr) evaluate(attrs map[string]string) bool {
	for _, and := range e.Or {
		if and.evaluate(attrs) {
			return true
		}
	}
	return false
}

func (a *andExpr) evaluate(attrs map[string]string) bool {
	for _, term := range a.Terms {
		if !term.evaluate(attrs) {
			return false
		}
	}
	return true
}

func (n *notExpr) evaluate(attrs map[string]string) bool {
	result := n.Atom.evaluate(attrs)
	if n.Negated {
		return !result
	}
	return result
}

func (a *atom) evaluate(attrs map[string]string) bool {
	if a.Sub != nil {
		return a.Sub.evaluate(attrs)
	}
	name, value := splitPredicate(unquote(*a.Predicate))
	return attrs[name] == value
}

// unquote strips the surrounding double quotes participle's default
// scanner-based lexer leaves on a captured String token.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// Evaluate parses and evaluates expression against attrs in one step. Used
// by callers (pkg/path, pkg/secret) that already validated the expression
// at register/update time and only need the boolean result now.
func Evaluate(expression string, attrs map[string]string) (bool, error) {
	e, err := parse(expression)
	if err != nil {
		return false, err
	}
	return e.evaluate(attrs), nil
}
