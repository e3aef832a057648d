package clip

import (
	"encoding/json"
	"fmt"
)

// ExportSchemaVersion is written into every export header.
const ExportSchemaVersion = "1.0"

// ExportRecord is one line of a JSONL history export. The header line sets
// Export and the schema fields; every other line carries a record.
type ExportRecord struct {
	// Header detection field - true only for header line
	Export        bool   `json:"_clipkeep_export,omitempty"`
	SchemaVersion string `json:"schema_version,omitempty"`
	ExportedAt    int64  `json:"exported_at,omitempty"`

	ID      string          `json:"id,omitempty"`
	Type    ContentType     `json:"content_type,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Created int64           `json:"created,omitempty"`
	Pinned  bool            `json:"pinned,omitempty"`
	Origin  string          `json:"origin,omitempty"`

	// Image holds the bitmap of image records (base64 in JSON).
	Image []byte `json:"image,omitempty"`
}

// ToExportRecord converts a live record. blobData is the image bitmap, or nil.
func ToExportRecord(r *Record, blobData []byte) (*ExportRecord, error) {
	content, err := MarshalContent(r.Content)
	if err != nil {
		return nil, err
	}
	return &ExportRecord{
		ID:      r.ID,
		Type:    r.Type,
		Content: content,
		Created: r.Created,
		Pinned:  r.Pinned,
		Origin:  r.Origin,
		Image:   blobData,
	}, nil
}

// ToRecord rebuilds a record from an export line, recomputing the fingerprint.
// The record is always returned unpinned; callers re-pin after insert.
func (e *ExportRecord) ToRecord() (*Record, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("missing id field")
	}
	if _, ok := IDTime(e.ID); !ok {
		return nil, fmt.Errorf("invalid id %q", e.ID)
	}
	if !e.Type.Valid() {
		return nil, fmt.Errorf("invalid content_type %q", e.Type)
	}
	c, err := UnmarshalContent(e.Type, e.Content)
	if err != nil {
		return nil, fmt.Errorf("invalid content: %w", err)
	}
	if img, ok := c.(Image); ok {
		if len(e.Image) == 0 {
			return nil, fmt.Errorf("image record without bitmap")
		}
		if BlobRef(e.Image) != img.BlobRef {
			return nil, fmt.Errorf("image bitmap does not match its reference")
		}
	}
	return &Record{
		ID:          e.ID,
		Type:        e.Type,
		Content:     c,
		Fingerprint: Fingerprint(c),
		Created:     e.Created,
		Origin:      e.Origin,
		SyncState:   SyncLocal,
	}, nil
}
