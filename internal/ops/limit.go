package ops

import (
	"context"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/config"
	"github.com/hpungsan/clipkeep/internal/errors"
)

// SetLimitInput carries the requested max_records.
type SetLimitInput struct {
	MaxRecords int
}

// SetLimitOutput reports the effective capacity after clamping to [50, 1000]
// and to the tier ceiling.
type SetLimitOutput struct {
	Requested int      `json:"requested"`
	Applied   int      `json:"applied"`
	Capacity  int      `json:"capacity"`
	Evicted   []string `json:"evicted"`
}

// SetLimit persists a new capacity and evicts at once if it shrank.
func SetLimit(ctx context.Context, a *app.App, input SetLimitInput) (*SetLimitOutput, error) {
	if input.MaxRecords <= 0 {
		return nil, errors.NewInvalidRequest("max_records must be positive")
	}
	capacity, evicted, err := a.Store.SetMaxRecords(ctx, input.MaxRecords)
	if err != nil {
		return nil, err
	}
	if evicted == nil {
		evicted = []string{}
	}
	return &SetLimitOutput{
		Requested: input.MaxRecords,
		Applied:   config.ClampMaxRecords(input.MaxRecords),
		Capacity:  capacity,
		Evicted:   evicted,
	}, nil
}
