// Package utils holds small helpers shared by the CLI.
package utils

import (
	"io"
	"sync"
)

// DeferredWriter buffers writes until Flush. It is used to hold log output
// while a full-screen TUI owns the terminal.
type DeferredWriter struct {
	mu      sync.Mutex
	entries [][]byte
}

func (d *DeferredWriter) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// zerolog reuses its buffers
	entry := make([]byte, len(p))
	copy(entry, p)
	d.entries = append(d.entries, entry)
	return len(p), nil
}

// Len returns the number of buffered writes.
func (d *DeferredWriter) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Flush writes every buffered entry to w, in order, and empties the buffer.
// Each entry is written with its own Write call so line-oriented writers
// such as zerolog.ConsoleWriter see one event at a time.
func (d *DeferredWriter) Flush(w io.Writer) error {
	d.mu.Lock()
	entries := d.entries
	d.entries = nil
	d.mu.Unlock()

	for _, e := range entries {
		if _, err := w.Write(e); err != nil {
			return err
		}
	}
	return nil
}
