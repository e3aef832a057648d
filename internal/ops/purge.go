package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/errors"
)

// PurgeInput contains parameters for the Purge operation.
type PurgeInput struct {
	// OlderThanDays defaults to soft_delete_retention_days.
	OlderThanDays *int

	// Force also purges deletions not yet propagated to the sync mirror.
	Force bool
}

// PurgeOutput contains the result of the Purge operation.
type PurgeOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// Purge permanently removes soft-deleted records and unreferenced image blobs.
func Purge(ctx context.Context, a *app.App, input PurgeInput) (*PurgeOutput, error) {
	olderThan := a.Config.SoftDeleteRetention()
	if input.OlderThanDays != nil {
		if *input.OlderThanDays < 0 {
			return nil, errors.NewInvalidRequest("older_than_days must not be negative")
		}
		olderThan = time.Duration(*input.OlderThanDays) * 24 * time.Hour
	}

	count, err := a.Store.PurgeDeleted(ctx, olderThan, input.Force)
	if err != nil {
		return nil, err
	}
	return &PurgeOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, int(olderThan/(24*time.Hour))),
	}, nil
}

func formatPurgeMessage(count, days int) string {
	if count == 0 {
		return "No deleted records to purge"
	}
	word := "record"
	if count > 1 {
		word = "records"
	}
	msg := fmt.Sprintf("Permanently deleted %d %s", count, word)
	if days > 0 {
		msg += fmt.Sprintf(" (deleted more than %d days ago)", days)
	}
	return msg
}
