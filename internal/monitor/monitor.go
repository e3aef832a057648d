// Package monitor watches the OS clipboard and feeds changes into the dedup engine.
//
// Each clipboard slot (text, image, files) has a change token. A poll compares
// tokens with the last seen ones, reads the changed slots with bounded
// retries, classifies the payload and commits it. Errors never stop the loop:
// they are logged and the poll is treated as "no change".
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hpungsan/clipkeep/internal/classify"
	"github.com/hpungsan/clipkeep/internal/dedup"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/logging"
)

// Slot is a clipboard format the monitor watches.
type Slot string

const (
	SlotText  Slot = "text"
	SlotImage Slot = "image"
	SlotFiles Slot = "files"
)

// Slots is the polling order.
var Slots = []Slot{SlotFiles, SlotImage, SlotText}

// Source is the OS clipboard as seen by the monitor. Token returns an opaque
// change token for a slot ("" when the slot is empty or unsupported).
type Source interface {
	Token(slot Slot) (string, error)
	ReadText() (string, error)
	ReadImage() ([]byte, error)
	ReadFiles() ([]string, error)
}

// Committer receives classified drafts. Implemented by *dedup.Engine.
type Committer interface {
	Commit(ctx context.Context, d classify.Draft) (dedup.CommitResult, error)
}

// Options configures a Monitor.
type Options struct {
	PollInterval   time.Duration
	ReadRetries    int
	ReadRetryDelay time.Duration
	SelfWriteGrace time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Monitor is safe for concurrent use; Run is meant to be called once.
type Monitor struct {
	src    Source
	commit Committer
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	last       map[Slot]string
	selfWrites map[string]time.Time // fingerprint -> expiry
}

// New returns a monitor reading src and committing to c.
func New(src Source, c Committer, opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.ReadRetries < 0 {
		opts.ReadRetries = 0
	}
	m := &Monitor{
		src:        src,
		commit:     c,
		opts:       opts,
		log:        opts.Logger,
		now:        opts.Now,
		last:       make(map[Slot]string),
		selfWrites: make(map[string]time.Time),
	}
	if m.log == nil {
		m.log = logging.For("monitor")
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Run polls until ctx is cancelled. Cancellation is checked between polls;
// a commit already in progress always completes.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	m.log.Info("monitor started", "interval", m.opts.PollInterval)
	for {
		m.Poll(ctx)
		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one observation pass and returns the commit result, if any.
func (m *Monitor) Poll(ctx context.Context) (dedup.CommitResult, bool) {
	changed := m.changedSlots()
	if len(changed) == 0 {
		return dedup.CommitResult{}, false
	}

	var p classify.Payload
	for _, slot := range changed {
		if err := m.readSlot(ctx, slot.slot, &p); err != nil {
			m.log.Debug("dropped clipboard change", "error", err)
		}
		m.setToken(slot.slot, slot.token)
	}
	if p.Empty() {
		return dedup.CommitResult{}, false
	}

	res, err := m.Capture(context.WithoutCancel(ctx), p)
	if err != nil {
		m.log.Warn("capture dropped", "error", err, "code", errors.CodeOf(err))
		return dedup.CommitResult{}, false
	}
	if res.Outcome != dedup.Suppressed {
		m.log.Debug("captured", "id", res.ID, "outcome", res.Outcome)
	}
	return res, true
}

// Capture classifies a payload and commits it unless it is empty or the echo
// of this process's own paste.
func (m *Monitor) Capture(ctx context.Context, p classify.Payload) (dedup.CommitResult, error) {
	d, ok := classify.Classify(p)
	if !ok {
		return dedup.CommitResult{Outcome: dedup.Suppressed}, nil
	}
	if m.consumeSelfWrite(d.Fingerprint) {
		m.log.Debug("suppressed self-write", "fingerprint", d.Fingerprint[:12])
		return dedup.CommitResult{Outcome: dedup.Suppressed}, nil
	}
	return m.commit.Commit(ctx, d)
}

// NoteSelfWrite registers content this process is about to place on the
// clipboard. The next change with the same fingerprint inside the grace
// window is not captured.
func (m *Monitor) NoteSelfWrite(fingerprint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selfWrites[fingerprint] = m.now().Add(m.opts.SelfWriteGrace)
}

func (m *Monitor) consumeSelfWrite(fp string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.selfWrites {
		if now.After(exp) {
			delete(m.selfWrites, k)
		}
	}
	if _, ok := m.selfWrites[fp]; ok {
		delete(m.selfWrites, fp)
		return true
	}
	return false
}

type slotToken struct {
	slot  Slot
	token string
}

func (m *Monitor) changedSlots() []slotToken {
	var changed []slotToken
	for _, slot := range Slots {
		tok, err := m.src.Token(slot)
		if err != nil {
			m.log.Debug("clipboard token read failed", "error", errors.NewCaptureError(string(slot), err))
			continue
		}
		m.mu.Lock()
		prev, seen := m.last[slot]
		m.mu.Unlock()
		if seen && prev == tok {
			continue
		}
		if tok == "" {
			// Slot emptied; nothing to capture.
			m.setToken(slot, tok)
			continue
		}
		changed = append(changed, slotToken{slot: slot, token: tok})
	}
	return changed
}

func (m *Monitor) setToken(slot Slot, tok string) {
	m.mu.Lock()
	m.last[slot] = tok
	m.mu.Unlock()
}

// readSlot reads one slot into p, retrying while the clipboard is empty or
// locked. Exhausting the retries drops the change.
func (m *Monitor) readSlot(ctx context.Context, slot Slot, p *classify.Payload) error {
	var lastErr error
	for attempt := 0; attempt <= m.opts.ReadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.NewCaptureError(string(slot), ctx.Err())
			case <-time.After(m.opts.ReadRetryDelay):
			}
		}

		switch slot {
		case SlotText:
			text, err := m.src.ReadText()
			if err == nil && text != "" {
				p.Text = text
				return nil
			}
			lastErr = err
		case SlotImage:
			img, err := m.src.ReadImage()
			if err == nil && len(img) > 0 {
				p.Image = img
				return nil
			}
			lastErr = err
		case SlotFiles:
			files, err := m.src.ReadFiles()
			if err == nil && len(files) > 0 {
				p.Files = files
				return nil
			}
			lastErr = err
		}
	}
	return errors.NewCaptureError(string(slot), lastErr)
}
