package ops

import (
	"context"

	"github.com/hpungsan/clipkeep/internal/app"
)

// PinOutput contains the result of Pin and Unpin.
type PinOutput struct {
	ID     string `json:"id"`
	Pinned bool   `json:"pinned"`
}

// Pin exempts a record from eviction. Exceeding the tier's pinned ceiling is
// a CONFLICT.
func Pin(ctx context.Context, a *app.App, input IDInput) (*PinOutput, error) {
	return setPinned(ctx, a, input, true)
}

// Unpin returns a record to the capacity budget, which may evict the oldest
// unpinned records.
func Unpin(ctx context.Context, a *app.App, input IDInput) (*PinOutput, error) {
	return setPinned(ctx, a, input, false)
}

func setPinned(ctx context.Context, a *app.App, input IDInput, pinned bool) (*PinOutput, error) {
	id, err := requireID(input.ID)
	if err != nil {
		return nil, err
	}
	if pinned {
		err = a.Store.Pin(ctx, id)
	} else {
		err = a.Store.Unpin(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return &PinOutput{ID: id, Pinned: pinned}, nil
}
