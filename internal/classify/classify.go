// Package classify maps raw clipboard payloads to typed record drafts.
package classify

import (
	"bytes"
	"encoding/json"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hpungsan/clipkeep/internal/clip"
)

// Payload is what the monitor read from the clipboard. At most one slot is
// normally populated; Files wins over Image which wins over Text.
type Payload struct {
	Text  string
	Image []byte
	Files []string
}

// Empty reports whether the payload carries nothing capturable.
func (p Payload) Empty() bool {
	return strings.TrimSpace(p.Text) == "" && len(p.Image) == 0 && len(nonEmpty(p.Files)) == 0
}

// Draft is a classified payload ready for the dedup engine.
type Draft struct {
	Content     clip.Content
	Fingerprint string

	// Blob holds image bytes to be stored out-of-line; nil for other types.
	Blob []byte
}

// Classify turns a payload into a draft. It never fails on ambiguity: text
// that is neither JSON nor code is Text. ok is false only for empty payloads.
func Classify(p Payload) (Draft, bool) {
	if files := nonEmpty(p.Files); len(files) > 0 {
		return finish(describeFiles(files), nil), true
	}
	if len(p.Image) > 0 {
		return finish(describeImage(p.Image), p.Image), true
	}
	if strings.TrimSpace(p.Text) == "" {
		return Draft{}, false
	}
	return finish(ClassifyText(p.Text), nil), true
}

// FromContent builds a draft for content that is already typed (sync imports, re-pastes).
func FromContent(c clip.Content, blob []byte) Draft {
	return finish(c, blob)
}

func finish(c clip.Content, blob []byte) Draft {
	return Draft{Content: c, Fingerprint: clip.Fingerprint(c), Blob: blob}
}

// ClassifyText picks JSON, Code or Text for a textual payload.
func ClassifyText(text string) clip.Content {
	if keys, ok := jsonKeys(text); ok {
		return clip.JSON{Text: text, TopKeys: keys}
	}
	if lang, ok := DetectCode(text); ok {
		return clip.Code{Text: text, Language: lang}
	}
	return clip.Text{Text: text}
}

// jsonKeys reports whether text is a JSON object or array and returns the
// sorted top-level keys of an object.
func jsonKeys(text string) ([]string, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 {
		return nil, false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, false
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, false
	}
	if trimmed[0] == '[' {
		return nil, true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, true
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, true
}

func describeImage(data []byte) clip.Image {
	img := clip.Image{
		BlobRef: clip.BlobRef(data),
		Bytes:   int64(len(data)),
	}
	// Undecodable bitmaps are still images; dimensions stay zero.
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width = cfg.Width
		img.Height = cfg.Height
		img.Format = format
	}
	return img
}

func describeFiles(paths []string) clip.Files {
	items := make([]clip.FileDescriptor, 0, len(paths))
	for _, p := range paths {
		d := clip.FileDescriptor{
			Path: filepath.Clean(p),
			Type: fileType(p),
		}
		if info, err := os.Stat(p); err == nil {
			d.Exists = true
			if info.IsDir() {
				d.Type = "inode/directory"
			} else {
				d.Size = info.Size()
			}
		}
		items = append(items, d)
	}
	return clip.Files{Items: items}
}

func fileType(p string) string {
	ext := strings.ToLower(filepath.Ext(p))
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i > 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}

func nonEmpty(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
