package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/notify"
	"github.com/hpungsan/clipkeep/internal/ops"
)

// newCLIApp creates the CLI application with all commands. a may be nil
// when only help or version output is needed.
func newCLIApp(a *app.App) *cli.App {
	cliApp := &cli.App{
		Name:    "clipkeep",
		Usage:   "Encrypted clipboard history",
		Version: Version,
		Commands: []*cli.Command{
			watchCmd(a),
			captureCmd(a),
			listCmd(a),
			getCmd(a),
			searchCmd(a),
			pinCmd(a, true),
			pinCmd(a, false),
			deleteCmd(a),
			pasteCmd(a),
			syncCmd(a),
			purgeCmd(a),
			limitCmd(a),
			exportCmd(a),
			importCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// watchLine is one line of watch output.
type watchLine struct {
	notify.Event
	Record *clip.Summary `json:"record,omitempty"`
}

// watchCmd runs the monitor and the sync schedule until interrupted,
// printing one JSON line per history change.
func watchCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Record clipboard changes (and sync, if configured) until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not print change events"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			events, cancel := a.Broker.Subscribe(64)
			defer cancel()

			if err := a.Start(ctx); err != nil {
				return outputError(errors.NewInternal(err))
			}
			enc := json.NewEncoder(c.App.Writer)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					if c.Bool("quiet") {
						continue
					}
					line := watchLine{Event: ev}
					if ev.Kind == notify.Inserted || ev.Kind == notify.Updated {
						if rec, err := a.Store.Get(ctx, ev.ID); err == nil {
							s := rec.ToSummary()
							line.Record = &s
						}
					}
					if err := enc.Encode(line); err != nil {
						return err
					}
				}
			}
		},
	}
}

// captureCmd creates the capture command.
func captureCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Add to history as if copied (reads text from stdin)",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "file", Aliases: []string{"f"}, Usage: "Capture file paths instead of text (repeatable)"},
			&cli.StringFlag{Name: "image", Usage: "Capture an image file instead of text"},
		},
		Action: func(c *cli.Context) error {
			input := ops.CaptureInput{
				Files:     c.StringSlice("file"),
				ImagePath: c.String("image"),
			}
			if len(input.Files) == 0 && input.ImagePath == "" {
				text, err := readInput(c)
				if err != nil {
					return outputError(err)
				}
				input.Text = text
			}
			return run(c, func(ctx context.Context) (any, error) {
				return ops.Capture(ctx, a, input)
			})
		},
	}
}

// listCmd creates the list command.
func listCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List history, pinned first then newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Page size"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Records to skip"},
			&cli.StringFlag{Name: "filter", Usage: "Only records containing this text"},
		},
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context) (any, error) {
				return ops.List(ctx, a, ops.ListInput{
					Limit:  c.Int("limit"),
					Offset: c.Int("offset"),
					Filter: c.String("filter"),
				})
			})
		},
	}
}

// getCmd creates the get command.
func getCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one record with its full content",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "raw", Usage: "Print only the text, without JSON"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.Get(c.Context, a, ops.IDInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("raw") {
				_, err := io.WriteString(c.App.Writer, out.Text)
				return err
			}
			return outputJSON(c.App.Writer, out)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search history",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fuzzy", Usage: "Rank by fuzzy match"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Page size"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Results to skip"},
		},
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context) (any, error) {
				return ops.Search(ctx, a, ops.SearchInput{
					Query:  strings.Join(c.Args().Slice(), " "),
					Fuzzy:  c.Bool("fuzzy"),
					Limit:  c.Int("limit"),
					Offset: c.Int("offset"),
				})
			})
		},
	}
}

// pinCmd creates the pin or unpin command.
func pinCmd(a *app.App, pin bool) *cli.Command {
	name, usage, op := "unpin", "Unpin a record (it may be evicted)", ops.Unpin
	if pin {
		name, usage, op = "pin", "Pin a record so it is never evicted", ops.Pin
	}
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context) (any, error) {
				return op(ctx, a, ops.IDInput{ID: c.Args().First()})
			})
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a record (and, on the next sync, from other devices)",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context) (any, error) {
				return ops.Delete(ctx, a, ops.IDInput{ID: c.Args().First()})
			})
		},
	}
}

// pasteCmd creates the paste command.
func pasteCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "paste",
		Usage:     "Put a record back on the clipboard and paste it",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "Target application"},
		},
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context) (any, error) {
				return ops.Paste(ctx, a, ops.PasteInput{ID: c.Args().First(), Target: c.String("target")})
			})
		},
	}
}

// syncCmd creates the sync command.
func syncCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one sync pass against the remote mirror",
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context) (any, error) {
				return ops.SyncNow(ctx, a)
			})
		},
	}
}

// purgeCmd creates the purge command.
func purgeCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Permanently remove deleted records",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Usage: "Only purge if deleted more than N days ago (e.g., 7d)"},
			&cli.BoolFlag{Name: "force", Usage: "Also purge deletions not yet synced"},
		},
		Action: func(c *cli.Context) error {
			input := ops.PurgeInput{Force: c.Bool("force")}
			if olderThan := c.String("older-than"); olderThan != "" {
				days, err := parseDuration(olderThan)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.OlderThanDays = &days
			}
			return run(c, func(ctx context.Context) (any, error) {
				return ops.Purge(ctx, a, input)
			})
		},
	}
}

// limitCmd creates the limit command.
func limitCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "limit",
		Usage:     "Set max_records (50..1000, capped by tier); shrinking evicts at once",
		ArgsUsage: "<max_records>",
		Action: func(c *cli.Context) error {
			n, err := strconv.Atoi(c.Args().First())
			if err != nil {
				return outputError(errors.NewInvalidRequest("max_records must be a number"))
			}
			return run(c, func(ctx context.Context) (any, error) {
				return ops.SetLimit(ctx, a, ops.SetLimitInput{MaxRecords: n})
			})
		},
	}
}

// exportCmd creates the export command.
func exportCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export history, decrypted, to JSONL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Destination .jsonl (default: ~/.clipkeep/exports/<origin>-<timestamp>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context) (any, error) {
				return ops.Export(ctx, a, ops.ExportInput{Path: c.String("path")})
			})
		},
	}
}

// importCmd creates the import command.
func importCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import history from a JSONL export",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context) (any, error) {
				return ops.Import(ctx, a, ops.ImportInput{Path: c.Args().First()})
			})
		},
	}
}

// Helper functions

// run executes an operation and prints its result as JSON. The typed nil
// pointers ops return alongside an error never reach outputJSON.
func run(c *cli.Context, fn func(ctx context.Context) (any, error)) error {
	out, err := fn(c.Context)
	if err != nil {
		return outputError(err)
	}
	return outputJSON(c.App.Writer, out)
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if cErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// readInput reads the text to capture. Stdin must be piped, not a terminal.
func readInput(c *cli.Context) (string, error) {
	r := c.App.Reader
	if f, ok := r.(*os.File); ok && !isPiped(f) {
		return "", errors.NewInvalidRequest("text must be piped via stdin")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.NewInvalidRequest("text is required")
	}
	return string(data), nil
}

// isPiped returns true if f is a pipe or file rather than a terminal.
func isPiped(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	numStr, ok := strings.CutSuffix(s, "d")
	if !ok {
		return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
	}
	days, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}
	if days < 0 {
		return 0, fmt.Errorf("duration must be non-negative")
	}
	return days, nil
}
