// Package query filters finding groups with CEL expressions.
//
// Reporting layers select groups with boolean expressions such as
//
//	severity_rank >= 4 && count > 1
//	class == "cross_domain_js" && attributes.domain.endsWith(".example.com")
//	urls.exists(u, u.startsWith("https://admin."))
//
// Expressions see the following variables, read from the group's
// representative and aggregate views:
//
//	name           string
//	severity       string
//	severity_rank  int (information=1 .. critical=5)
//	producer       string
//	class          string
//	count          int, number of members
//	urls           list(string), deduplicated member URLs
//	identity       string, stable identity
//	attributes     map(string, dyn), representative attributes
package query

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/zero-day-ai/aggregator/group"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

func environment() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("name", cel.StringType),
			cel.Variable("severity", cel.StringType),
			cel.Variable("severity_rank", cel.IntType),
			cel.Variable("producer", cel.StringType),
			cel.Variable("class", cel.StringType),
			cel.Variable("count", cel.IntType),
			cel.Variable("urls", cel.ListType(cel.StringType)),
			cel.Variable("identity", cel.StringType),
			cel.Variable("attributes", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return env, envErr
}

// Filter is a compiled group filter. Safe for concurrent use.
type Filter struct {
	expr    string
	program cel.Program
}

// Compile parses and type-checks expr. Expressions that do not evaluate to
// a bool are rejected.
func Compile(expr string) (*Filter, error) {
	e, err := environment()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	ast, iss := e.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := e.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build filter program %q: %w", expr, err)
	}

	return &Filter{expr: expr, program: prg}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) *Filter {
	f, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match evaluates the filter against g. Evaluation errors, such as reading
// an attribute the group does not carry, are returned.
func (f *Filter) Match(g *group.Group) (bool, error) {
	out, _, err := f.program.Eval(Variables(g))
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.expr, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T", f.expr, out.Value())
	}
	return matched, nil
}

// Apply returns the groups matching the filter, in order. The first
// evaluation error aborts.
func (f *Filter) Apply(groups []*group.Group) ([]*group.Group, error) {
	var matched []*group.Group
	for _, g := range groups {
		ok, err := f.Match(g)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, g)
		}
	}
	return matched, nil
}

// Variables returns the activation a filter evaluates g against.
func Variables(g *group.Group) map[string]any {
	rep := g.Representative()
	return map[string]any{
		"name":          rep.Name,
		"severity":      string(rep.Severity),
		"severity_rank": rep.Severity.Rank(),
		"producer":      rep.Producer,
		"class":         rep.Class,
		"count":         g.Len(),
		"urls":          g.URLs(),
		"identity":      g.StableIdentity(),
		"attributes":    rep.Attributes.Native(),
	}
}
