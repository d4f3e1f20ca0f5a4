package resolve

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of resolving one alias in a batch.
type Result struct {
	Alias      string
	Connection Connection
	Err        error
}

// ResolveAll resolves aliases concurrently, at most jobs at a time (no limit
// when jobs <= 0). A failing alias is reported in its Result and does not
// stop the others. Results are in the order of aliases.
func (r *Resolver) ResolveAll(ctx context.Context, aliases []string, jobs int) []Result {
	results := make([]Result, len(aliases))

	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, alias := range aliases {
		g.Go(func() error {
			conn, err := r.Resolve(ctx, alias)
			results[i] = Result{Alias: alias, Connection: conn, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
