package storage

import (
	"fmt"
	"os"
	"sync"
)

// FillLog is an append-only sink for fill records, independent of the
// keyed Pebble state: it exists so operators can reconstruct trade
// history or rebuild a volume report without replaying the whole book.
type FillLog interface {
	Append(line string)
}

// NopFillLog discards every line; used in tests where fill history
// doesn't matter.
type NopFillLog struct{}

func NewNopFillLog() *NopFillLog { return &NopFillLog{} }
func (w *NopFillLog) Append(_ string) {}

// FileFillLog appends one JSON line per fill to a plain file, fsync-free
// (the Pebble store is the durability boundary; this is a human-readable
// side channel).
type FileFillLog struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileFillLog(path string) (*FileFillLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileFillLog{f: f}, nil
}

func (w *FileFillLog) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.f, line)
}

func (w *FileFillLog) Close() error {
	return w.f.Close()
}

var _ FillLog = (*NopFillLog)(nil)
var _ FillLog = (*FileFillLog)(nil)
