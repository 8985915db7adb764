package training

import (
	"context"

	"github.com/danielpatrickdp/hybrid-router/internal/features"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region collect

// FeatureSource re-extracts features for a stored query.
type FeatureSource interface {
	Dimension() int
	Extract(ctx context.Context, q query.Query, md features.Metadata) ([]float32, error)
}

// CollectFromTurns turns stored turns (oldest first) into labeled examples.
// Blocked turns carry no label and are skipped. A turn that carries the vector
// it was routed on of the source's width is used as is. Other turns are
// re-extracted, with HistoryLength rebuilt from each project's running count.
func CollectFromTurns(ctx context.Context, turns []query.Turn, src FeatureSource) ([]Example, error) {
	seen := make(map[string]int)
	out := make([]Example, 0, len(turns))
	for _, t := range turns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.Route == query.RouteBlocked {
			continue
		}
		vec, err := turnFeatures(ctx, t, seen[t.Project], src)
		if err != nil {
			return nil, err
		}
		ex, err := NewExample(vec, t.Route)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
		seen[t.Project]++
	}
	return out, nil
}

func turnFeatures(ctx context.Context, t query.Turn, history int, src FeatureSource) ([]float32, error) {
	if len(t.Features) == src.Dimension() {
		return append([]float32(nil), t.Features...), nil
	}
	q, err := query.New(t.Query,
		query.WithProject(t.QueryProject()),
		query.WithPriority(t.Priority),
		query.WithTime(t.CreatedAt),
	)
	if err != nil {
		return nil, err
	}
	return src.Extract(ctx, q, features.Metadata{HistoryLength: history})
}

// #endregion collect
