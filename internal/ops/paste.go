package ops

import (
	"context"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/paste"
)

// PasteInput selects a record and an optional target application.
type PasteInput struct {
	ID     string
	Target string
}

// Paste puts a stored record back on the clipboard and asks the injector to
// paste it. The write is never re-captured.
func Paste(ctx context.Context, a *app.App, input PasteInput) (*paste.Result, error) {
	id, err := requireID(input.ID)
	if err != nil {
		return nil, err
	}
	return a.Paste.Paste(ctx, paste.Request{RecordID: id, Target: input.Target})
}
