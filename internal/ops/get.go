package ops

import (
	"context"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/clip"
)

// GetOutput is a full record plus its literal text, when it has one.
type GetOutput struct {
	Record *clip.Record `json:"record"`
	Text   string       `json:"text,omitempty"`
}

// Get returns one live record with decrypted content.
func Get(ctx context.Context, a *app.App, input IDInput) (*GetOutput, error) {
	id, err := requireID(input.ID)
	if err != nil {
		return nil, err
	}
	rec, err := a.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	text, _ := clip.TextOf(rec.Content)
	return &GetOutput{Record: rec, Text: text}, nil
}
