package mcp

import "github.com/mark3labs/mcp-go/mcp"

var captureToolDef = mcp.NewTool("clip_capture",
	mcp.WithDescription("Add text or files to clipboard history as if they had been copied. Identical content within the dedup window bumps the existing record."),
	mcp.WithString("text", mcp.Description("Text to capture")),
	mcp.WithArray("files", mcp.Description("Absolute file paths to capture"), mcp.WithStringItems()),
)

var listToolDef = mcp.NewTool("clip_list",
	mcp.WithDescription("List clipboard history, pinned first then newest first. Returns previews, not full content."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Records to skip")),
	mcp.WithString("filter", mcp.Description("Only records containing this text (case-insensitive)")),
)

var getToolDef = mcp.NewTool("clip_get",
	mcp.WithDescription("Fetch one record with its full content."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
)

var searchToolDef = mcp.NewTool("clip_search",
	mcp.WithDescription("Search clipboard history by substring, or by fuzzy subsequence match."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
	mcp.WithBoolean("fuzzy", mcp.Description("Rank by fuzzy match instead of substring")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Records to skip")),
)

var pinToolDef = mcp.NewTool("clip_pin",
	mcp.WithDescription("Pin a record so it is never evicted."),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
)

var unpinToolDef = mcp.NewTool("clip_unpin",
	mcp.WithDescription("Unpin a record. It counts against max_records again and may evict the oldest records."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
)

var deleteToolDef = mcp.NewTool("clip_delete",
	mcp.WithDescription("Delete a record. The deletion syncs to other devices."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
)

var pasteToolDef = mcp.NewTool("clip_paste",
	mcp.WithDescription("Put a record back on the system clipboard and paste it into the target application."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
	mcp.WithString("target", mcp.Description("Target application (default: frontmost)")),
)

var syncToolDef = mcp.NewTool("clip_sync",
	mcp.WithDescription("Run one sync pass against the configured remote mirror and report what changed."),
)

var purgeToolDef = mcp.NewTool("clip_purge",
	mcp.WithDescription("Permanently remove deleted records and unreferenced images."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithNumber("older_than_days", mcp.Description("Only records deleted more than N days ago (default: soft_delete_retention_days)")),
	mcp.WithBoolean("force", mcp.Description("Also purge deletions not yet synced")),
)

var limitToolDef = mcp.NewTool("clip_limit",
	mcp.WithDescription("Set max_records (clamped to 50..1000 and the tier ceiling). Shrinking evicts at once."),
	mcp.WithNumber("max_records", mcp.Required(), mcp.Description("New capacity for unpinned records")),
)

var exportToolDef = mcp.NewTool("clip_export",
	mcp.WithDescription("Export live history, decrypted, to a JSONL file."),
	mcp.WithString("path", mcp.Description("Destination .jsonl (default: <base>/exports/<origin>-<timestamp>.jsonl)")),
)

var importToolDef = mcp.NewTool("clip_import",
	mcp.WithDescription("Import history from a JSONL export. Existing ids and duplicate content are skipped."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Source .jsonl")),
)
