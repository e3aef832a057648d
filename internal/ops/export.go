package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/store"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path string // optional, default: <base>/exports/<origin>-<timestamp>.jsonl
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes live history, decrypted, to a JSONL file: a header line, then
// one record per line with image bitmaps inlined. The file is written to a
// temp name and renamed into place, so an existing file survives a failure.
func Export(ctx context.Context, a *app.App, input ExportInput) (*ExportOutput, error) {
	now := a.Store.Now()
	exportsDir := ExportsDir(a)

	path := input.Path
	if path == "" {
		name := SanitizeForFilename(a.Config.Origin)
		path = filepath.Join(exportsDir, fmt.Sprintf("%s-%d.jsonl", name, now))
		if err := os.MkdirAll(exportsDir, 0700); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
		}
	}
	if err := ValidatePath(path, PathCheckWrite, exportsDir, a.Config); err != nil {
		return nil, err
	}

	recs, _, err := a.Store.List(ctx, store.ListQuery{})
	if err != nil {
		return nil, err
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(suffix) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}
	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	header := clip.ExportRecord{Export: true, SchemaVersion: clip.ExportSchemaVersion, ExportedAt: now}
	if err := enc.Encode(header); err != nil {
		return nil, errors.NewInternal(err)
	}

	count := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("export cancelled: %w", err))
		}
		var blobData []byte
		if img, ok := rec.Content.(clip.Image); ok {
			if blobData, err = a.Store.Blob(img.BlobRef); err != nil {
				return nil, errors.NewInternal(fmt.Errorf("read image %s: %w", rec.ID, err))
			}
		}
		line, err := clip.ToExportRecord(rec, blobData)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := enc.Encode(line); err != nil {
			return nil, errors.NewInternal(err)
		}
		count++
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink planted since validation.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{Path: path, Count: count, ExportedAt: now}, nil
}
