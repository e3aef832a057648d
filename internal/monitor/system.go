package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/atotto/clipboard"
)

// ErrUnsupported is returned for clipboard formats the platform backend cannot handle.
var ErrUnsupported = fmt.Errorf("clipboard format not supported on this platform")

// SystemClipboard is the OS clipboard. Only the text slot is backed; the
// image and files slots always report empty. The text token is a content hash,
// since the portable backend exposes no sequence number.
type SystemClipboard struct{}

// Available reports whether a clipboard backend was found (xclip, xsel,
// wl-clipboard, pbcopy or the Windows API).
func (SystemClipboard) Available() bool {
	return !clipboard.Unsupported
}

func (SystemClipboard) Token(slot Slot) (string, error) {
	if slot != SlotText {
		return "", nil
	}
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", nil
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]), nil
}

func (SystemClipboard) ReadText() (string, error) {
	return clipboard.ReadAll()
}

func (SystemClipboard) ReadImage() ([]byte, error) {
	return nil, nil
}

func (SystemClipboard) ReadFiles() ([]string, error) {
	return nil, nil
}

// WriteText places text on the clipboard.
func (SystemClipboard) WriteText(text string) error {
	return clipboard.WriteAll(text)
}

// WriteImage is not supported by the portable backend.
func (SystemClipboard) WriteImage([]byte) error {
	return ErrUnsupported
}

// WriteFiles is not supported by the portable backend.
func (SystemClipboard) WriteFiles([]string) error {
	return ErrUnsupported
}
