package permissions

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// RuleEnv is the environment a rule expression is evaluated against.
type RuleEnv struct {
	Op     string `expr:"op"`
	Addr   int    `expr:"addr"`
	Length int    `expr:"length"`
	Guest  string `expr:"guest"`
}

// Rule is a compiled boolean expression that further restricts a grant,
// e.g. `op == "read" || addr in [0x50, 0x51]`.
type Rule struct {
	source  string
	program *vm.Program
}

// CompileRule compiles and type-checks a rule expression.
func CompileRule(source string) (*Rule, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("empty rule expression")
	}
	program, err := expr.Compile(source, expr.Env(RuleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid rule %q: %w", source, err)
	}
	return &Rule{source: source, program: program}, nil
}

// MustCompileRule compiles a rule or panics (for tests only).
func MustCompileRule(source string) *Rule {
	r, err := CompileRule(source)
	if err != nil {
		panic(err)
	}
	return r
}

// Source returns the expression text. A nil rule has an empty source.
func (r *Rule) Source() string {
	if r == nil {
		return ""
	}
	return r.source
}

// Allows evaluates the rule. A nil rule allows everything.
func (r *Rule) Allows(env RuleEnv) (bool, error) {
	if r == nil {
		return true, nil
	}
	output, err := expr.Run(r.program, env)
	if err != nil {
		return false, fmt.Errorf("rule %q: %w", r.source, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not return boolean: %v", r.source, output)
	}
	return result, nil
}
