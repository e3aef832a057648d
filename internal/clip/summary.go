package clip

// PreviewChars bounds the preview carried by a Summary.
const PreviewChars = 120

// Summary is a record's metadata plus a short preview, used by list output.
type Summary struct {
	ID          string      `json:"id"`
	Type        ContentType `json:"content_type"`
	Preview     string      `json:"preview"`
	Fingerprint string      `json:"fingerprint"`
	Created     int64       `json:"created"`
	Pinned      bool        `json:"pinned"`
	Origin      string      `json:"origin"`
	SyncState   SyncState   `json:"sync_state"`
}

// ToSummary converts a Record to a Summary.
func (r *Record) ToSummary() Summary {
	return Summary{
		ID:          r.ID,
		Type:        r.Type,
		Preview:     r.Preview(PreviewChars),
		Fingerprint: r.Fingerprint,
		Created:     r.Created,
		Pinned:      r.Pinned,
		Origin:      r.Origin,
		SyncState:   r.SyncState,
	}
}
