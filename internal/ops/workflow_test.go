package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/config"
	"github.com/hpungsan/clipkeep/internal/dedup"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/tier"
)

// TestHistoryWorkflow walks the capture lifecycle:
// capture → dedup → list → pin → flood past capacity → search
func TestHistoryWorkflow(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRecords = 500
	cfg.Tier = tier.VIP
	env := newTestEnv(t, cfg, tier.VIPLimits)
	ctx := context.Background()

	// 1. Capture
	hello := env.capture(t, "hello world")
	require.Equal(t, dedup.Inserted, hello.Outcome)

	listOut, err := List(ctx, env.app, ListInput{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listOut.Items, 1)
	require.Equal(t, hello.ID, listOut.Items[0].ID)
	require.Equal(t, clip.TypeText, listOut.Items[0].Type)

	// 2. Same text inside the dedup window bumps instead of inserting
	env.clock.Advance(time.Second)
	again := env.capture(t, "hello world")
	require.Equal(t, dedup.Bumped, again.Outcome)
	require.Equal(t, hello.ID, again.ID)

	listOut, err = List(ctx, env.app, ListInput{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listOut.Items, 1)

	// 3. A new text lands on top
	env.clock.Advance(time.Second)
	bye := env.capture(t, "goodbye")
	listOut, err = List(ctx, env.app, ListInput{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listOut.Items, 2)
	require.Equal(t, bye.ID, listOut.Items[0].ID)
	require.Equal(t, hello.ID, listOut.Items[1].ID)

	// 4. Search finds hello world by substring
	searchOut, err := Search(ctx, env.app, SearchInput{Query: "wor"})
	require.NoError(t, err)
	require.Len(t, searchOut.Items, 1)
	require.Equal(t, hello.ID, searchOut.Items[0].ID)

	// 5. Pin goodbye, then flood past max_records
	pinOut, err := Pin(ctx, env.app, IDInput{ID: bye.ID})
	require.NoError(t, err)
	require.True(t, pinOut.Pinned)

	for i := 0; i < 500; i++ {
		env.clock.Advance(time.Millisecond)
		out := env.capture(t, fmt.Sprintf("flood item %04d", i))
		require.Equal(t, dedup.Inserted, out.Outcome)
	}

	_, err = Get(ctx, env.app, IDInput{ID: bye.ID})
	require.NoError(t, err, "pinned record must survive eviction")
	_, err = Get(ctx, env.app, IDInput{ID: hello.ID})
	require.True(t, errors.Is(err, errors.ErrNotFound), "oldest unpinned record should be evicted")

	listOut, err = List(ctx, env.app, ListInput{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 501, listOut.Pagination.Total)
	require.True(t, listOut.Pagination.HasMore)
	require.Equal(t, bye.ID, listOut.Items[0].ID, "pinned records list first")

	// 6. Search no longer returns the evicted record nor unrelated ones
	searchOut, err = Search(ctx, env.app, SearchInput{Query: "wor"})
	require.NoError(t, err)
	require.Empty(t, searchOut.Items)
	require.Equal(t, 0, searchOut.Pagination.Total)
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := newTestEnv(t, nil, nil)
	ctx := context.Background()

	first := src.capture(t, "alpha")
	src.clock.Advance(3 * time.Second)
	second := src.capture(t, `{"beta": 2}`)
	src.clock.Advance(3 * time.Second)
	_, err := Pin(ctx, src.app, IDInput{ID: first.ID})
	require.NoError(t, err)

	exp, err := Export(ctx, src.app, ExportInput{})
	require.NoError(t, err)
	require.Equal(t, 2, exp.Count)
	require.Equal(t, ExportsDir(src.app), filepath.Dir(exp.Path))

	// Exports hold plaintext; the file must not be world readable.
	info, err := os.Stat(exp.Path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dst := newTestEnv(t, nil, nil)
	dst.app.Config.AllowedPaths = []string{filepath.Dir(exp.Path)}

	imp, err := Import(ctx, dst.app, ImportInput{Path: exp.Path})
	require.NoError(t, err)
	require.Equal(t, 2, imp.Imported)
	require.Equal(t, 0, imp.Skipped)
	require.Empty(t, imp.Errors)

	got, err := Get(ctx, dst.app, IDInput{ID: first.ID})
	require.NoError(t, err)
	require.Equal(t, "alpha", got.Text)
	require.True(t, got.Record.Pinned)

	got, err = Get(ctx, dst.app, IDInput{ID: second.ID})
	require.NoError(t, err)
	require.Equal(t, clip.TypeJSON, got.Record.Type)

	// Importing the same file again is a no-op.
	imp, err = Import(ctx, dst.app, ImportInput{Path: exp.Path})
	require.NoError(t, err)
	require.Equal(t, 0, imp.Imported)
	require.Equal(t, 2, imp.Skipped)
}

func TestImport_ReportsBadLines(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	dir := ExportsDir(env.app)
	require.NoError(t, os.MkdirAll(dir, 0700))

	path := filepath.Join(dir, "broken.jsonl")
	body := `{"_clipkeep_export":true,"schema_version":"1.0","exported_at":1}
not json
{"id":"not-a-ulid","content_type":"text","content":{"text":"x"}}
{"id":"01ARZ3NDEKTSV4RRFFQ69G5FAV","content_type":"text","content":{"text":"kept"},"created":1700000000000,"origin":"elsewhere"}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	imp, err := Import(context.Background(), env.app, ImportInput{Path: path})
	require.NoError(t, err)
	require.Equal(t, 1, imp.Imported)
	require.Equal(t, 2, imp.Skipped)
	require.Len(t, imp.Errors, 2)
	require.Equal(t, 2, imp.Errors[0].Line)
	require.Equal(t, "PARSE_ERROR", imp.Errors[0].Code)
	require.Equal(t, "INVALID_RECORD", imp.Errors[1].Code)

	got, err := Get(context.Background(), env.app, IDInput{ID: "01ARZ3NDEKTSV4RRFFQ69G5FAV"})
	require.NoError(t, err)
	require.Equal(t, "elsewhere", got.Record.Origin)
}

func TestImport_MissingFile(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	path := filepath.Join(ExportsDir(env.app), "absent.jsonl")
	_, err := Import(context.Background(), env.app, ImportInput{Path: path})
	require.True(t, errors.Is(err, errors.ErrFileNotFound), "got %v", err)
}

func TestExport_RejectsOutsideAllowedDirs(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := Export(context.Background(), env.app, ExportInput{Path: filepath.Join(t.TempDir(), "out.jsonl")})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
}
