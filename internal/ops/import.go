package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/dedup"
	"github.com/hpungsan/clipkeep/internal/errors"
)

// maxImportLine bounds one JSONL line; image records inline their bitmap.
const maxImportLine = 64 << 20

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string // required
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes one line that could not be imported.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Import loads a history export. Each record keeps its id, created time and
// origin. Records whose id is already stored, or whose content matches a
// live record, are skipped. Capacity is enforced as records land, so
// importing more than max_records keeps the newest.
func Import(ctx context.Context, a *app.App, input ImportInput) (*ImportOutput, error) {
	if err := ValidatePath(input.Path, PathCheckRead, ExportsDir(a), a.Config); err != nil {
		return nil, err
	}
	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if _, ok := err.(*errors.ClipError); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	out := &ImportOutput{Errors: []ImportError{}}
	fail := func(line int, id, code, msg string) {
		out.Skipped++
		out.Errors = append(out.Errors, ImportError{Line: line, ID: id, Code: code, Message: msg})
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if err := ctx.Err(); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("import cancelled: %w", err))
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var line clip.ExportRecord
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			fail(lineNum, "", "PARSE_ERROR", fmt.Sprintf("invalid JSON: %v", err))
			continue
		}
		if line.Export {
			continue
		}
		rec, err := line.ToRecord()
		if err != nil {
			fail(lineNum, line.ID, "INVALID_RECORD", err.Error())
			continue
		}

		existing, err := a.Store.Lookup(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			out.Skipped++
			continue
		}

		res, err := a.Engine.Import(ctx, rec, line.Image)
		if err != nil {
			fail(lineNum, rec.ID, string(errors.CodeOf(err)), err.Error())
			continue
		}
		if res.Outcome == dedup.Suppressed {
			out.Skipped++
			continue
		}
		out.Imported++

		if line.Pinned {
			if err := a.Store.Pin(ctx, rec.ID); err != nil {
				out.Errors = append(out.Errors, ImportError{
					Line: lineNum, ID: rec.ID, Code: string(errors.CodeOf(err)), Message: err.Error(),
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		fail(lineNum, "", "READ_ERROR", fmt.Sprintf("failed to read file: %v", err))
	}
	return out, nil
}
