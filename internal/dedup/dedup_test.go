package dedup

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hpungsan/clipkeep/internal/blob"
	"github.com/hpungsan/clipkeep/internal/classify"
	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/db"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/logging"
	"github.com/hpungsan/clipkeep/internal/store"
	"github.com/hpungsan/clipkeep/internal/tier"
	"github.com/hpungsan/clipkeep/internal/vault"
)

const baseTime = int64(1_700_000_000_000)

type fixture struct {
	store  *store.Store
	engine *Engine
	clock  atomic.Int64
}

func newFixture(t *testing.T, window time.Duration) *fixture {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Init(dir)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
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

	f := &fixture{}
	f.clock.Store(baseTime)
	s, err := store.Open(context.Background(), database, v, blobs, store.Options{
		MaxRecords: 500,
		Limits:     tier.VIPLimits,
		Logger:     logging.Discard(),
		Now:        func() time.Time { return time.UnixMilli(f.clock.Load()) },
	})
	if err != nil {
		t.Fatal(err)
	}
	f.store = s
	f.engine = New(s, Options{Window: window, Origin: "test-origin", Logger: logging.Discard()})
	return f
}

func (f *fixture) commitText(t *testing.T, text string) CommitResult {
	t.Helper()
	d, ok := classify.Classify(classify.Payload{Text: text})
	if !ok {
		t.Fatalf("Classify(%q) not ok", text)
	}
	res, err := f.engine.Commit(context.Background(), d)
	if err != nil {
		t.Fatalf("Commit(%q): %v", text, err)
	}
	return res
}

func (f *fixture) live(t *testing.T) []*clip.Record {
	t.Helper()
	recs, _, err := f.store.List(context.Background(), store.ListQuery{Limit: 1000})
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestCommit_IdempotentWithinWindow(t *testing.T) {
	f := newFixture(t, 2*time.Second)

	first := f.commitText(t, "hello world")
	if first.Outcome != Inserted || first.ID == "" {
		t.Fatalf("first = %+v", first)
	}

	var last int64
	for i := 0; i < 5; i++ {
		f.clock.Add(300)
		last = f.clock.Load()
		res := f.commitText(t, "hello world")
		if res.Outcome != Bumped || res.ID != first.ID {
			t.Fatalf("repeat %d = %+v", i, res)
		}
	}

	recs := f.live(t)
	if len(recs) != 1 {
		t.Fatalf("live records = %d, want 1", len(recs))
	}
	if recs[0].Created != last {
		t.Errorf("created = %d, want last capture time %d", recs[0].Created, last)
	}
	if recs[0].Origin != "test-origin" {
		t.Errorf("origin = %q", recs[0].Origin)
	}
}

func TestCommit_WindowBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		window  time.Duration
		advance int64
		want    Outcome
	}{
		{"exactly at window bumps", 2 * time.Second, 2000, Bumped},
		{"one ms past window inserts", 2 * time.Second, 2001, Inserted},
		{"zero window same ms bumps", 0, 0, Bumped},
		{"zero window next ms inserts", 0, 1, Inserted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.window)
			f.commitText(t, "same")
			f.clock.Add(tt.advance)
			if got := f.commitText(t, "same"); got.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", got.Outcome, tt.want)
			}
		})
	}
}

func TestCommit_OutsideWindowKeepsOneLivePerWindow(t *testing.T) {
	f := newFixture(t, time.Second)
	a := f.commitText(t, "again")
	f.clock.Add(5000)
	b := f.commitText(t, "again")
	if b.Outcome != Inserted || b.ID == a.ID {
		t.Fatalf("second = %+v", b)
	}
	// The newest copy is the one bumped from now on.
	f.clock.Add(100)
	c := f.commitText(t, "again")
	if c.Outcome != Bumped || c.ID != b.ID {
		t.Errorf("third = %+v, want bump of %s", c, b.ID)
	}
}

func TestCommit_NormalizedTextDeduplicates(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	a := f.commitText(t, "line one\r\nline two")
	b := f.commitText(t, "line one\nline two  \n")
	if b.Outcome != Bumped || b.ID != a.ID {
		t.Errorf("normalized duplicate = %+v", b)
	}
	c := f.commitText(t, "  line one\nline two")
	if c.Outcome != Inserted {
		t.Errorf("leading whitespace is significant, got %+v", c)
	}
}

func TestCommit_DistinctContentNewestFirst(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	hello := f.commitText(t, "hello world")
	f.clock.Add(10)
	bye := f.commitText(t, "goodbye")

	recs := f.live(t)
	if len(recs) != 2 || recs[0].ID != bye.ID || recs[1].ID != hello.ID {
		t.Errorf("order wrong: %d records", len(recs))
	}
}

func TestCommit_Concurrent(t *testing.T) {
	f := newFixture(t, 2*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := classify.Classify(classify.Payload{Text: "racy"})
			if _, err := f.engine.Commit(context.Background(), d); err != nil {
				t.Errorf("Commit: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(f.live(t)); n != 1 {
		t.Errorf("live records = %d, want 1", n)
	}
}

func TestCommit_EmptyDraft(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.engine.Commit(context.Background(), classify.Draft{})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestImport(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()

	remoteCreated := baseTime - 60_000
	id, _ := clip.NewID(time.UnixMilli(remoteCreated))
	rec := &clip.Record{
		ID: id, Content: clip.Text{Text: "from laptop"}, Created: remoteCreated,
		Origin: "linux-laptop", SyncState: clip.SyncSynced,
	}
	res, err := f.engine.Import(ctx, rec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Inserted || res.ID != id {
		t.Fatalf("import = %+v", res)
	}

	got, err := f.store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Created != remoteCreated || got.Origin != "linux-laptop" || got.SyncState != clip.SyncSynced {
		t.Errorf("imported = %+v", got)
	}

	// Same content under a different id is not imported twice.
	id2, _ := clip.NewID(time.UnixMilli(remoteCreated + 1))
	dup := &clip.Record{ID: id2, Content: clip.Text{Text: "from laptop"}, Created: remoteCreated + 1, SyncState: clip.SyncSynced}
	res, err = f.engine.Import(ctx, dup, nil)
	if err != nil || res.Outcome != Suppressed || res.ID != "" {
		t.Errorf("duplicate import = %+v, %v", res, err)
	}

	if _, err := f.engine.Import(ctx, &clip.Record{}, nil); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty import err = %v", err)
	}
}

func TestTouch(t *testing.T) {
	f := newFixture(t, time.Second)
	a := f.commitText(t, "a")
	f.clock.Add(10)
	f.commitText(t, "b")
	f.clock.Add(10_000)

	if err := f.engine.Touch(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	recs := f.live(t)
	if recs[0].ID != a.ID || recs[0].Created != f.clock.Load() {
		t.Errorf("touched record should be newest: %+v", recs[0])
	}
}
