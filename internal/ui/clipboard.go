package ui

import (
	"errors"

	"github.com/atotto/clipboard"
)

// ErrClipboardEmpty is returned when the clipboard holds no text.
var ErrClipboardEmpty = errors.New("clipboard is empty")

// ClipboardReader returns the clipboard text.
type ClipboardReader func() (string, error)

// SystemClipboard reads the OS clipboard.
func SystemClipboard() (string, error) {
	if clipboard.Unsupported {
		return "", errors.New("no clipboard utility available")
	}
	return clipboard.ReadAll()
}

// PasteText reads text from read. Unreadable or empty clipboards are
// reported as ErrClipboardEmpty; whitespace is pasted as is.
func PasteText(read ClipboardReader) (string, error) {
	if read == nil {
		return "", ErrClipboardEmpty
	}
	text, err := read()
	if err != nil || text == "" {
		return "", ErrClipboardEmpty
	}
	return text, nil
}
