package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/config"
	"github.com/hpungsan/clipkeep/internal/logging"
	"github.com/hpungsan/clipkeep/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"watch": true, "capture": true,
	"list": true, "get": true, "search": true,
	"pin": true, "unpin": true, "delete": true,
	"paste": true, "sync": true, "purge": true, "limit": true,
	"export": true, "import": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false
	}
	return cliCommands[args[1]] || isHelpOrVersion(args)
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	switch args[1] {
	case "--help", "-h", "--version", "-v", "help":
		return true
	}
	return false
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
        _ _       _
    ___| (_)_ __ | | _____  ___ _ __
   / __| | | '_ \| |/ / _ \/ _ \ '_ \
  | (__| | | |_) |   <  __/  __/ |_) |
   \___|_|_| .__/|_|\_\___|\___| .__/
           |_|                 |_|

  Encrypted clipboard history

  Usage: clipkeep <command> [options]
         clipkeep watch     record the clipboard
         clipkeep --help

  MCP server mode requires piped input.`)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Help and version need no store (and no passphrase).
	if isHelpOrVersion(os.Args) {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fail("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fail("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".clipkeep")

	cfg, err := config.Load(baseDir)
	if err != nil {
		fail("failed to load config: %v", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	cliMode := isCLIMode(os.Args)
	if !cliMode && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'clipkeep --help' for usage.\n")
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logging.For("main").Warn("unknown tools in disabled_tools", "tools", unknown)
	}

	a, err := app.New(context.Background(), baseDir, cfg, app.Options{})
	if err != nil {
		fail("failed to open history: %v", err)
	}
	defer a.Close()

	if cliMode {
		if err := newCLIApp(a).Run(os.Args); err != nil {
			a.Close()
			fail("%v", err)
		}
		return
	}

	// MCP server mode (default)
	if err := mcp.Run(a, Version); err != nil {
		a.Close()
		fail("%v", err)
	}
}
