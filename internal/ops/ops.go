// Package ops implements the command layer shared by the CLI and the MCP
// server. Each operation takes the running service and an XxxInput and
// returns an XxxOutput or a typed error.
package ops

import (
	"path/filepath"
	"strings"

	"github.com/hpungsan/clipkeep/internal/app"
	"github.com/hpungsan/clipkeep/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// IDInput addresses a single record.
type IDInput struct {
	ID string
}

// requireID trims and validates a record id.
func requireID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.NewInvalidRequest("id is required")
	}
	return id, nil
}

// clampPage applies limit defaults and bounds and a non-negative offset.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}

// ExportsDir is the default directory for history exports.
func ExportsDir(a *app.App) string {
	return filepath.Join(a.BaseDir, "exports")
}
