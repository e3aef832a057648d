package ops

import (
	"context"
	"fmt"
	"os"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/classify"
	"github.com/hpungsan/clipkeep/internal/dedup"
	"github.com/hpungsan/clipkeep/internal/errors"
)

// MaxCaptureImageBytes bounds images read from disk by Capture.
const MaxCaptureImageBytes = 50 << 20

// CaptureInput contains a raw payload. At most one of the fields is
// normally set; Files wins over ImagePath which wins over Text.
type CaptureInput struct {
	Text      string
	Files     []string
	ImagePath string
}

// CaptureOutput contains the result of the Capture operation. ID is empty
// when the capture was suppressed.
type CaptureOutput struct {
	ID      string        `json:"id,omitempty"`
	Outcome dedup.Outcome `json:"outcome"`
	Evicted []string      `json:"evicted,omitempty"`
}

// Capture classifies a payload and commits it through the dedup engine, as if
// it had been copied to the clipboard.
func Capture(ctx context.Context, a *app.App, input CaptureInput) (*CaptureOutput, error) {
	p := classify.Payload{Text: input.Text, Files: input.Files}
	if input.ImagePath != "" {
		info, err := os.Stat(input.ImagePath)
		if err != nil {
			return nil, errors.NewFileNotFound(input.ImagePath)
		}
		if info.Size() > MaxCaptureImageBytes {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("image exceeds %d bytes", MaxCaptureImageBytes))
		}
		data, err := os.ReadFile(input.ImagePath)
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("read image: %w", err))
		}
		p.Image = data
	}

	res, err := a.Monitor.Capture(ctx, p)
	if err != nil {
		return nil, err
	}
	return &CaptureOutput{ID: res.ID, Outcome: res.Outcome, Evicted: res.Evicted}, nil
}
