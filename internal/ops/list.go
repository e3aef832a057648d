package ops

import (
	"context"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/store"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Limit  int    // default: 20, max: 100
	Offset int    // default: 0
	Filter string // optional substring filter
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []clip.Summary `json:"items"`
	Pagination Pagination     `json:"pagination"`
	Sort       string         `json:"sort"`
}

// List returns one page of live record summaries, pinned first, then newest first.
func List(ctx context.Context, a *app.App, input ListInput) (*ListOutput, error) {
	limit, offset := clampPage(input.Limit, input.Offset)

	recs, total, err := a.Store.List(ctx, store.ListQuery{
		Limit:  limit,
		Offset: offset,
		Filter: input.Filter,
	})
	if err != nil {
		return nil, err
	}

	return &ListOutput{
		Items: summaries(recs),
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(recs) < total,
			Total:   total,
		},
		Sort: "pinned_then_created_desc",
	}, nil
}

// summaries converts records, returning an empty array rather than nil.
func summaries(recs []*clip.Record) []clip.Summary {
	out := make([]clip.Summary, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ToSummary())
	}
	return out
}
