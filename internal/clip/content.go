package clip

import (
	"encoding/json"
	"fmt"
)

// ContentType is the classified kind of a clipboard record.
type ContentType string

const (
	TypeText  ContentType = "text"
	TypeImage ContentType = "image"
	TypeFile  ContentType = "file"
	TypeJSON  ContentType = "json"
	TypeCode  ContentType = "code"
)

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeJSON, TypeCode:
		return true
	}
	return false
}

// Content is the canonical payload of a record. The set of implementations is
// closed: Text, JSON, Code, Image and Files.
type Content interface {
	Kind() ContentType
	isContent()
}

// Text is plain text.
type Text struct {
	Text string `json:"text"`
}

// JSON is text that parsed as a JSON object or array.
type JSON struct {
	Text    string   `json:"text"`
	TopKeys []string `json:"top_keys,omitempty"`
}

// Code is text that looks like source code.
type Code struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Image references a bitmap stored out-of-line in the blob store.
type Image struct {
	BlobRef string `json:"blob_ref"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bytes   int64  `json:"bytes"`
	Format  string `json:"format,omitempty"`
}

// FileDescriptor describes one copied file. Missing paths are kept with Exists=false.
type FileDescriptor struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Type   string `json:"type"`
	Exists bool   `json:"exists"`
}

// Files is a list of copied file paths.
type Files struct {
	Items []FileDescriptor `json:"items"`
}

func (Text) Kind() ContentType  { return TypeText }
func (JSON) Kind() ContentType  { return TypeJSON }
func (Code) Kind() ContentType  { return TypeCode }
func (Image) Kind() ContentType { return TypeImage }
func (Files) Kind() ContentType { return TypeFile }

func (Text) isContent()  {}
func (JSON) isContent()  {}
func (Code) isContent()  {}
func (Image) isContent() {}
func (Files) isContent() {}

// TextOf returns the literal text of textual content, and false for Image/Files.
func TextOf(c Content) (string, bool) {
	switch v := c.(type) {
	case Text:
		return v.Text, true
	case JSON:
		return v.Text, true
	case Code:
		return v.Text, true
	default:
		return "", false
	}
}

// MarshalContent encodes content for sealing. The kind is stored alongside in the row.
func MarshalContent(c Content) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("nil content")
	}
	return json.Marshal(c)
}

// UnmarshalContent decodes content produced by MarshalContent.
func UnmarshalContent(kind ContentType, data []byte) (Content, error) {
	switch kind {
	case TypeText:
		var v Text
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeJSON:
		var v JSON
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeCode:
		var v Code
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeImage:
		var v Image
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeFile:
		var v Files
		err := json.Unmarshal(data, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown content type %q", kind)
	}
}
