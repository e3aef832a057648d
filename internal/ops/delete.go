package ops

import (
	"context"

	"github.com/hpungsan/clipkeep/internal/app"
)

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// Delete soft-deletes a record. The deletion reaches the sync mirror on the
// next pass; the row itself lingers until purged.
func Delete(ctx context.Context, a *app.App, input IDInput) (*DeleteOutput, error) {
	id, err := requireID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := a.Store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return &DeleteOutput{Deleted: true, ID: id}, nil
}
