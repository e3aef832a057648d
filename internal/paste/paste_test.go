package paste

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/clipkeep/internal/blob"
	"github.com/hpungsan/clipkeep/internal/classify"
	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/db"
	"github.com/hpungsan/clipkeep/internal/dedup"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/logging"
	"github.com/hpungsan/clipkeep/internal/monitor"
	"github.com/hpungsan/clipkeep/internal/store"
	"github.com/hpungsan/clipkeep/internal/tier"
	"github.com/hpungsan/clipkeep/internal/vault"
)

// memClipboard is both the monitor's source and the dispatcher's sink.
type memClipboard struct {
	mu    sync.Mutex
	seq   int
	text  string
	files []string
	image []byte
	fail  error
}

func (c *memClipboard) Token(slot monitor.Slot) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot != monitor.SlotText || c.seq == 0 {
		return "", nil
	}
	return strconv.Itoa(c.seq), nil
}

func (c *memClipboard) ReadText() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, nil
}

func (c *memClipboard) ReadImage() ([]byte, error) { return nil, nil }

func (c *memClipboard) ReadFiles() ([]string, error) { return nil, nil }

func (c *memClipboard) WriteText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.text = text
	c.seq++
	return nil
}

func (c *memClipboard) WriteImage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = data
	return c.fail
}

func (c *memClipboard) WriteFiles(paths []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = paths
	return c.fail
}

type recordingInjector struct {
	targets []string
}

func (r *recordingInjector) Inject(_ context.Context, target string) error {
	r.targets = append(r.targets, target)
	return nil
}

type harness struct {
	store    *store.Store
	engine   *dedup.Engine
	monitor  *monitor.Monitor
	cb       *memClipboard
	injector *recordingInjector
	d        *Dispatcher
	clock    int64
	mu       sync.Mutex
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.UnixMilli(h.clock)
}

func (h *harness) advance(ms int64) {
	h.mu.Lock()
	h.clock += ms
	h.mu.Unlock()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Init(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })

	v, err := vault.Open(context.Background(), db.KeyringStore{DB: database}, "pw", vault.Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1})
	if err != nil {
		t.Fatal(err)
	}
	blobs, err := blob.New(filepath.Join(dir, "blobs"), v)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{clock: 1_700_000_000_000, cb: &memClipboard{}, injector: &recordingInjector{}}
	h.store, err = store.Open(context.Background(), database, v, blobs, store.Options{
		MaxRecords: 500,
		Limits:     tier.VIPLimits,
		Logger:     logging.Discard(),
		Now:        h.now,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.engine = dedup.New(h.store, dedup.Options{Window: 2 * time.Second, Logger: logging.Discard()})
	h.monitor = monitor.New(h.cb, h.engine, monitor.Options{
		SelfWriteGrace: 1500 * time.Millisecond,
		Logger:         logging.Discard(),
		Now:            h.now,
	})
	h.d = &Dispatcher{
		Records:  h.store,
		Sink:     h.cb,
		Injector: h.injector,
		Notes:    h.monitor,
		Touch:    h.engine,
		Logger:   logging.Discard(),
	}
	return h
}

func (h *harness) commit(t *testing.T, p classify.Payload) string {
	t.Helper()
	d, ok := classify.Classify(p)
	if !ok {
		t.Fatal("empty payload")
	}
	res, err := h.engine.Commit(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	return res.ID
}

func (h *harness) liveCount(t *testing.T) int {
	t.Helper()
	_, total, err := h.store.List(context.Background(), store.ListQuery{})
	if err != nil {
		t.Fatal(err)
	}
	return total
}

func TestPaste_NeverCapturesItsOwnWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old := h.commit(t, classify.Payload{Text: "pasted text"})
	h.advance(10)
	h.commit(t, classify.Payload{Text: "something newer"})
	h.advance(60_000)

	// Prime the monitor so the next token change is the paste.
	h.monitor.Poll(ctx)

	res, err := h.d.Paste(ctx, Request{RecordID: old, Target: "window-42"})
	if err != nil {
		t.Fatalf("Paste: %v", err)
	}
	if res.ID != old || res.Type != clip.TypeText {
		t.Errorf("result = %+v", res)
	}
	if h.cb.text != "pasted text" {
		t.Errorf("clipboard = %q", h.cb.text)
	}
	if len(h.injector.targets) != 1 || h.injector.targets[0] != "window-42" {
		t.Errorf("injected targets = %v", h.injector.targets)
	}

	out, ok := h.monitor.Poll(ctx)
	if !ok || out.Outcome != dedup.Suppressed {
		t.Errorf("poll after paste = %+v, %v", out, ok)
	}
	if n := h.liveCount(t); n != 2 {
		t.Errorf("live records = %d, want 2", n)
	}

	recs, _, _ := h.store.List(ctx, store.ListQuery{Limit: 1})
	if len(recs) != 1 || recs[0].ID != old {
		t.Error("pasted record should move to the top")
	}
}

func TestPaste_Files(t *testing.T) {
	h := newHarness(t)
	id := h.commit(t, classify.Payload{Files: []string{"/nonexistent/b.txt", "/nonexistent/a.txt"}})

	if _, err := h.d.Paste(context.Background(), Request{RecordID: id}); err != nil {
		t.Fatal(err)
	}
	if len(h.cb.files) != 2 {
		t.Errorf("files = %v", h.cb.files)
	}
}

func TestPaste_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.d.Paste(ctx, Request{}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty id err = %v", err)
	}
	if _, err := h.d.Paste(ctx, Request{RecordID: "01ARZ3NDEKTSV4RRFFQ69G5FAV"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing id err = %v", err)
	}

	id := h.commit(t, classify.Payload{Text: "x"})
	h.cb.fail = fmt.Errorf("clipboard busy")
	if _, err := h.d.Paste(ctx, Request{RecordID: id}); !errors.Is(err, errors.ErrInternal) {
		t.Errorf("sink failure err = %v", err)
	}
	if len(h.injector.targets) != 0 {
		t.Error("injector must not run when the clipboard write failed")
	}
}

func TestLogInjector(t *testing.T) {
	if err := (LogInjector{Logger: logging.Discard()}).Inject(context.Background(), "t"); err != nil {
		t.Fatal(err)
	}
}
