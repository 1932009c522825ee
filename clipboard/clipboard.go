// Package clipboard copies session summaries to the system clipboard.
package clipboard

import (
	"errors"
	"fmt"

	cb "github.com/atotto/clipboard"
)

var ErrUnsupported = errors.New("no clipboard utility available (install xclip, xsel or wl-clipboard)")

func Available() bool {
	return !cb.Unsupported
}

func Read() (string, error) {
	if !Available() {
		return "", ErrUnsupported
	}
	return cb.ReadAll()
}

func Copy(text string) error {
	if !Available() {
		return ErrUnsupported
	}
	return cb.WriteAll(text)
}

// CopyVerified copies text and reads it back.
func CopyVerified(text string) error {
	if err := Copy(text); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	got, err := Read()
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	if got != text {
		return fmt.Errorf("clipboard holds %d bytes, copied %d", len(got), len(text))
	}
	return nil
}
