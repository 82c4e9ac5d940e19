package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/jward/veracity/internal/match"
)

// Filter is a Risor expression evaluated once per match. A result is kept
// when the expression's value is truthy. The expression sees item,
// relation and via, plus the host functions.
type Filter struct {
	rt   *Runtime
	expr string
}

// NewFilter prepares expr. An empty expression keeps every result.
func (r *Runtime) NewFilter(expr string) *Filter {
	return &Filter{rt: r, expr: strings.TrimSpace(expr)}
}

// Keep evaluates the filter against one result.
func (f *Filter) Keep(ctx context.Context, res match.Result) (bool, error) {
	if f.expr == "" {
		return true, nil
	}
	obj, err := f.rt.RunSource(ctx, f.expr, ResultGlobals(res))
	if err != nil {
		return false, fmt.Errorf("runtime: filter on %s:%d: %w",
			res.Item.Location.File, res.Item.Location.Line, err)
	}
	return obj != nil && obj.IsTruthy(), nil
}

// Apply returns the results the filter keeps, preserving order. The first
// evaluation error aborts.
func (f *Filter) Apply(ctx context.Context, results []match.Result) ([]match.Result, error) {
	if f.expr == "" {
		return results, nil
	}
	kept := results[:0:0]
	for _, r := range results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := f.Keep(ctx, r)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, r)
		}
	}
	return kept, nil
}
