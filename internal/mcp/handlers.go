package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	app *app.App
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(a *app.App) *Handlers {
	return &Handlers{app: a}
}

// Request types for each tool

// CaptureRequest represents the arguments for capture.
type CaptureRequest struct {
	Text  string   `json:"text,omitempty"`
	Files []string `json:"files,omitempty"`
}

// IDRequest addresses one record (get, pin, unpin, delete).
type IDRequest struct {
	ID string `json:"id"`
}

// ListRequest represents the arguments for list.
type ListRequest struct {
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Filter string `json:"filter,omitempty"`
}

// SearchRequest represents the arguments for search.
type SearchRequest struct {
	Query  string `json:"query"`
	Fuzzy  bool   `json:"fuzzy,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// PasteRequest represents the arguments for paste.
type PasteRequest struct {
	ID     string `json:"id"`
	Target string `json:"target,omitempty"`
}

// PurgeRequest represents the arguments for purge.
type PurgeRequest struct {
	OlderThanDays *int `json:"older_than_days,omitempty"`
	Force         bool `json:"force,omitempty"`
}

// LimitRequest represents the arguments for limit.
type LimitRequest struct {
	MaxRecords int `json:"max_records"`
}

// PathRequest represents the arguments for export and import.
type PathRequest struct {
	Path string `json:"path,omitempty"`
}

// HandleCapture handles the capture tool call.
func (h *Handlers) HandleCapture(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaptureRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Text == "" && len(input.Files) == 0 {
		return errorResult(errors.NewInvalidRequest("text or files is required")), nil
	}
	return respond(ops.Capture(ctx, h.app, ops.CaptureInput{Text: input.Text, Files: input.Files}))
}

// HandleList handles the list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.List(ctx, h.app, ops.ListInput{
		Limit:  input.Limit,
		Offset: input.Offset,
		Filter: input.Filter,
	}))
}

// HandleGet handles the get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Get(ctx, h.app, ops.IDInput{ID: input.ID}))
}

// HandleSearch handles the search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Search(ctx, h.app, ops.SearchInput{
		Query:  input.Query,
		Fuzzy:  input.Fuzzy,
		Limit:  input.Limit,
		Offset: input.Offset,
	}))
}

// HandlePin handles the pin tool call.
func (h *Handlers) HandlePin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Pin(ctx, h.app, ops.IDInput{ID: input.ID}))
}

// HandleUnpin handles the unpin tool call.
func (h *Handlers) HandleUnpin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Unpin(ctx, h.app, ops.IDInput{ID: input.ID}))
}

// HandleDelete handles the delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Delete(ctx, h.app, ops.IDInput{ID: input.ID}))
}

// HandlePaste handles the paste tool call.
func (h *Handlers) HandlePaste(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PasteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Paste(ctx, h.app, ops.PasteInput{ID: input.ID, Target: input.Target}))
}

// HandleSync handles the sync tool call.
func (h *Handlers) HandleSync(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(ops.SyncNow(ctx, h.app))
}

// HandlePurge handles the purge tool call.
func (h *Handlers) HandlePurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PurgeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Purge(ctx, h.app, ops.PurgeInput{
		OlderThanDays: input.OlderThanDays,
		Force:         input.Force,
	}))
}

// HandleLimit handles the limit tool call.
func (h *Handlers) HandleLimit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LimitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.SetLimit(ctx, h.app, ops.SetLimitInput{MaxRecords: input.MaxRecords}))
}

// HandleExport handles the export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PathRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Export(ctx, h.app, ops.ExportInput{Path: input.Path}))
}

// HandleImport handles the import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PathRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Import(ctx, h.app, ops.ImportInput{Path: input.Path}))
}

// Result helpers

// respond turns an ops result pair into a tool result.
func respond[T any](data *T, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(data)
}

// errorResult creates an MCP error result from any error. Internal errors
// carry no details, which may hold paths or SQL.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if cErr, ok := errors.As(err); ok {
		msg := cErr.Message
		if err != error(cErr) {
			// Keep the wrapping context, e.g. "line 3: ...".
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": msg,
			"status":  cErr.Status,
		}
		if cErr.Code != errors.ErrInternal && cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
