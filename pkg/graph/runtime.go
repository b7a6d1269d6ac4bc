package graph

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/pkgrestore/pkg/rid"
)

// CollectRuntimeGraph merges the project's runtime graph with the runtime
// graphs shipped by every accepted package of g. The project graph is merged
// first, then packages in pre-order, so earlier entries win.
//
// g must have been conflict-resolved. Lookups run concurrently, at most
// limit at a time (no limit when limit < 1).
func CollectRuntimeGraph(ctx context.Context, g *Graph, projectRuntimes *rid.Graph, limit int) (*rid.Graph, error) {
	nodes := g.Accepted()
	graphs := make([]*rid.Graph, len(nodes))

	eg, egctx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for i, n := range nodes {
		if n.Item == nil || n.Item.Provider == nil {
			continue
		}
		eg.Go(func() error {
			rg, err := n.Item.Provider.GetRuntimeGraph(egctx, n.Item.Identity)
			if err != nil {
				return err
			}
			graphs[i] = rg
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	merged := rid.New()
	merged.MergeIn(projectRuntimes)
	for _, rg := range graphs {
		merged.MergeIn(rg)
	}
	return merged, nil
}
