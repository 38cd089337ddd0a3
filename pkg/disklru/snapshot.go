package disklru

import (
	"fmt"
	"io"
	"sync"

	"github.com/calvinalkan/disklru/pkg/fs"
)

// Snapshot is an immutable view of one entry's values as of the moment of
// [Cache.Get].
//
// The snapshot owns open file handles over the clean files; the captured
// bytes stay readable even after the entry is overwritten or evicted.
// Close must be called to release the handles.
type Snapshot struct {
	cache    *Cache
	key      string
	sequence int64
	lengths  []int64
	sources  []fs.File

	closeOnce sync.Once
}

// Key returns the entry key this snapshot was captured from.
func (s *Snapshot) Key() string {
	return s.key
}

// Source returns the reader over the value at index i.
//
// The same underlying reader is returned on every call, so a caller can
// read progressively across calls. Panics if i is out of range.
func (s *Snapshot) Source(i int) io.Reader {
	return s.sources[i]
}

// Length returns the byte length of the value at index i as captured at
// Get time. Panics if i is out of range.
func (s *Snapshot) Length(i int) int64 {
	return s.lengths[i]
}

// String reads the remainder of the value at index i as a string.
//
// Note that this consumes the shared source: bytes already read through
// [Snapshot.Source] are not re-read.
func (s *Snapshot) String(i int) (string, error) {
	b, err := io.ReadAll(s.sources[i])
	if err != nil {
		return "", fmt.Errorf("reading snapshot value %d: %w", i, err)
	}

	return string(b), nil
}

// Edit starts an edit conditioned on the entry being unchanged since this
// snapshot was captured.
//
// Returns (nil, false, nil) if the entry has since been overwritten,
// removed, or evicted.
//
// Possible errors: [ErrIllegalState], IO.
func (s *Snapshot) Edit() (*Editor, bool, error) {
	return s.cache.edit(s.key, s.sequence)
}

// Close releases the held file handles. Idempotent.
func (s *Snapshot) Close() {
	s.closeOnce.Do(func() {
		for _, f := range s.sources {
			_ = f.Close()
		}
	})
}
