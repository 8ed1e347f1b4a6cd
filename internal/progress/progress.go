// Package progress renders per-epoch batch progress. It only observes the
// training loop and never feeds anything back into it.
package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Bar tracks completed batches within one epoch.
type Bar interface {
	Add(n int) error
	Finish() error
}

// Factory creates a bar for total batches.
type Factory func(total int, description string) Bar

const termWidth = 80

// NewTerminal returns a Factory drawing bars on w.
func NewTerminal(w io.Writer) Factory {
	return func(total int, description string) Bar {
		return progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetWidth(termWidth/2),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
}

// Discard is a Factory whose bars draw nothing.
func Discard(int, string) Bar {
	return nop{}
}

type nop struct{}

func (nop) Add(int) error { return nil }
func (nop) Finish() error { return nil }
