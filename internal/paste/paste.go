// Package paste puts a stored record back on the clipboard and hands it to
// the focused application.
package paste

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/logging"
)

// Sink is the writable side of the OS clipboard.
type Sink interface {
	WriteText(text string) error
	WriteImage(png []byte) error
	WriteFiles(paths []string) error
}

// Injector delivers the clipboard contents to a target window. Target is an
// opaque token owned by the UI layer.
type Injector interface {
	Inject(ctx context.Context, target string) error
}

// Records is the read side of the store the dispatcher needs.
type Records interface {
	Get(ctx context.Context, id string) (*clip.Record, error)
	Blob(ref string) ([]byte, error)
}

// SelfWriteNoter is told about clipboard writes made by this process.
// Implemented by *monitor.Monitor.
type SelfWriteNoter interface {
	NoteSelfWrite(fingerprint string)
}

// Toucher bumps a re-pasted record to the top. Implemented by *dedup.Engine.
type Toucher interface {
	Touch(ctx context.Context, id string) error
}

// LogInjector only records the request; keystroke injection is platform glue
// that lives outside this module.
type LogInjector struct {
	Logger *slog.Logger
}

func (l LogInjector) Inject(_ context.Context, target string) error {
	log := l.Logger
	if log == nil {
		log = logging.For("paste")
	}
	log.Debug("paste requested", "target", target)
	return nil
}

// Request asks for one record to be pasted.
type Request struct {
	RecordID string `json:"id"`
	Target   string `json:"target,omitempty"`
}

// Result reports what was placed on the clipboard.
type Result struct {
	ID   string           `json:"id"`
	Type clip.ContentType `json:"content_type"`
}

// Dispatcher wires the collaborators of a paste. Notes and Touch are optional.
type Dispatcher struct {
	Records  Records
	Sink     Sink
	Injector Injector
	Notes    SelfWriteNoter
	Touch    Toucher
	Logger   *slog.Logger
}

// Paste loads the record, registers the write as our own so the monitor does
// not capture it back, writes the clipboard, injects, and bumps the record.
func (d *Dispatcher) Paste(ctx context.Context, req Request) (*Result, error) {
	if req.RecordID == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	rec, err := d.Records.Get(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}

	if d.Notes != nil {
		d.Notes.NoteSelfWrite(rec.Fingerprint)
	}
	if err := d.write(rec); err != nil {
		return nil, err
	}

	if d.Injector != nil {
		if err := d.Injector.Inject(ctx, req.Target); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("inject: %w", err))
		}
	}

	if d.Touch != nil {
		if err := d.Touch.Touch(ctx, rec.ID); err != nil {
			// The paste itself succeeded; ordering is best effort.
			d.logger().Warn("bump after paste failed", "id", rec.ID, "error", err)
		}
	}
	return &Result{ID: rec.ID, Type: rec.Content.Kind()}, nil
}

func (d *Dispatcher) write(rec *clip.Record) error {
	if text, ok := clip.TextOf(rec.Content); ok {
		return wrapWrite(d.Sink.WriteText(text))
	}
	switch c := rec.Content.(type) {
	case clip.Image:
		data, err := d.Records.Blob(c.BlobRef)
		if err != nil {
			return err
		}
		return wrapWrite(d.Sink.WriteImage(data))
	case clip.Files:
		paths := make([]string, 0, len(c.Items))
		for _, it := range c.Items {
			paths = append(paths, it.Path)
		}
		return wrapWrite(d.Sink.WriteFiles(paths))
	}
	return errors.NewInternal(fmt.Errorf("unknown content %T", rec.Content))
}

func wrapWrite(err error) error {
	if err == nil {
		return nil
	}
	return errors.NewInternal(fmt.Errorf("clipboard write: %w", err))
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logging.For("paste")
}
