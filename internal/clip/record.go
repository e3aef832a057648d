// Package clip defines clipboard records and their content kinds.
//
// A record's id is a ULID minted from its created time, but created can move
// forward afterwards (a dedup bump or a bump from another device) while the
// id stays. Id order is therefore not history order; history sorts by
// created, and the id only serves as a stable key.
package clip

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// SyncState drives the sync reconciler.
type SyncState string

const (
	SyncLocal         SyncState = "local"
	SyncPendingUpload SyncState = "pending_upload"
	SyncSynced        SyncState = "synced"
	SyncConflict      SyncState = "conflict"
)

// Record is one entry of clipboard history.
type Record struct {
	// ID is a ULID assigned at creation
	ID string `json:"id"`

	// Type is the classified content type
	Type ContentType `json:"content_type"`

	// Content is the decrypted payload; never persisted in this form
	Content Content `json:"content"`

	// Fingerprint is the dedup digest of normalized content
	Fingerprint string `json:"fingerprint"`

	// Created is the capture time in epoch milliseconds (refreshed on dedup bump)
	Created int64 `json:"created"`

	Pinned bool `json:"pinned"`

	Deleted bool `json:"is_deleted"`

	// DeletedAt is the soft-delete time in epoch milliseconds (nullable)
	DeletedAt *int64 `json:"deleted_at,omitempty"`

	// Origin is the device tag of the capturing machine
	Origin string `json:"origin"`

	SyncState SyncState `json:"sync_state"`
}

// Preview returns a single-line display string of at most n runes.
func (r *Record) Preview(n int) string {
	var s string
	switch c := r.Content.(type) {
	case Text:
		s = c.Text
	case JSON:
		s = c.Text
	case Code:
		s = c.Text
	case Image:
		s = fmt.Sprintf("[image %dx%d %s]", c.Width, c.Height, c.Format)
	case Files:
		names := make([]string, 0, len(c.Items))
		for _, it := range c.Items {
			names = append(names, filepath.Base(it.Path))
		}
		s = strings.Join(names, ", ")
	}
	s = strings.Join(strings.Fields(s), " ")
	if n > 0 && utf8.RuneCountInString(s) > n {
		runes := []rune(s)
		s = string(runes[:n]) + "…"
	}
	return s
}

// SearchText is the text the search index sees for this record.
// Binary types contribute display-relevant substrings only.
func (r *Record) SearchText() string {
	switch c := r.Content.(type) {
	case Text:
		return c.Text
	case Code:
		return c.Text
	case JSON:
		if len(c.TopKeys) == 0 {
			return c.Text
		}
		return strings.Join(c.TopKeys, " ") + "\n" + c.Text
	case Image:
		return fmt.Sprintf("image %s %dx%d", c.Format, c.Width, c.Height)
	case Files:
		parts := make([]string, 0, len(c.Items)*2)
		for _, it := range c.Items {
			parts = append(parts, filepath.Base(it.Path), it.Path)
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// Live reports whether the record is visible to reads.
func (r *Record) Live() bool {
	return !r.Deleted
}
