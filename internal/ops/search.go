package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/store"
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Query  string // required
	Limit  int    // default: 20, max: 100
	Offset int
	Fuzzy  bool // rank by subsequence match instead of substring
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Items      []clip.Summary `json:"items"`
	Pagination Pagination     `json:"pagination"`
	Sort       string         `json:"sort"`
}

// Search returns live records whose text contains the query, ignoring case.
// Substring matches keep list order; fuzzy matches are ranked by score.
func Search(ctx context.Context, a *app.App, input SearchInput) (*SearchOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	limit, offset := clampPage(input.Limit, input.Offset)

	recs, total, err := a.Store.List(ctx, store.ListQuery{
		Limit:  limit,
		Offset: offset,
		Filter: query,
		Fuzzy:  input.Fuzzy,
	})
	if err != nil {
		return nil, err
	}

	sort := "pinned_then_created_desc"
	if input.Fuzzy {
		sort = "score_desc"
	}
	return &SearchOutput{
		Items: summaries(recs),
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(recs) < total,
			Total:   total,
		},
		Sort: sort,
	}, nil
}
