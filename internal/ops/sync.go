package ops

import (
	"context"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/errors"
	syncer "github.com/hpungsan/clipkeep/internal/sync"
)

// SyncNow runs one reconciliation pass against the remote mirror.
func SyncNow(ctx context.Context, a *app.App) (*syncer.SyncReport, error) {
	if a.Sync == nil {
		return nil, errors.NewInvalidRequest("sync is not configured (set remote_dsn and CLIPKEEP_PASSPHRASE)")
	}
	rep := a.Sync.SyncNow(ctx)
	return &rep, nil
}
