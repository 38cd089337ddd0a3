package disklru

import (
	"container/list"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// entry is the in-memory record for one key.
//
// The zero value of readable distinguishes "new entry without a first
// publish" from "readable entry under update": a non-readable entry that
// loses its editor must be dropped from the table, while a readable entry
// keeps its previous values when an update is aborted.
type entry struct {
	key string

	// lengths holds the byte lengths of the clean files.
	// All zero until the first successful commit.
	lengths []int64

	// readable is true once a successful publish has occurred and the
	// clean files exist.
	readable bool

	// current is the in-flight editor, or nil. At most one editor exists
	// per entry at any time. During recovery a sentinel editor marks a
	// DIRTY record with no matching CLEAN/REMOVE.
	current *Editor

	// sequence is stamped from the cache-wide counter on each publish.
	// Snapshots capture it so Snapshot.Edit can detect staleness.
	sequence int64

	// elem is this entry's node in the access-ordered list.
	elem *list.Element
}

func newEntry(key string, valueCount int) *entry {
	return &entry{
		key:     key,
		lengths: make([]int64, valueCount),
	}
}

// cleanFile returns the path of the authoritative value file for index i.
func (e *entry) cleanFile(dir string, i int) string {
	return filepath.Join(dir, e.key+"."+strconv.Itoa(i))
}

// dirtyFile returns the staging path for index i during an in-flight edit.
func (e *entry) dirtyFile(dir string, i int) string {
	return filepath.Join(dir, e.key+"."+strconv.Itoa(i)+".tmp")
}

// total returns the summed byte length across all indices.
func (e *entry) total() int64 {
	var n int64
	for _, l := range e.lengths {
		n += l
	}

	return n
}

// lengthsRecord renders the lengths as journal tokens: " <len0> <len1> ...".
func (e *entry) lengthsRecord() string {
	var b strings.Builder
	for _, l := range e.lengths {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(l, 10))
	}

	return b.String()
}

// setLengths parses decimal length tokens from a CLEAN record.
func (e *entry) setLengths(tokens []string) error {
	if len(tokens) != len(e.lengths) {
		return fmt.Errorf("expected %d lengths, got %d", len(e.lengths), len(tokens))
	}

	for i, tok := range tokens {
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("bad length %q", tok)
		}

		e.lengths[i] = n
	}

	return nil
}
