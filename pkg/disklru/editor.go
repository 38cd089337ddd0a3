package disklru

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/disklru/pkg/fs"
)

// Editor is an in-flight, exclusive edit of one key.
//
// Values are written through per-index sinks obtained from
// [Editor.NewSink]; the bytes stage in dirty files and publish atomically
// on [Editor.Commit]. Sink write failures never reach the caller: they are
// recorded on the editor and Commit degrades to Abort.
//
// Every editor must be finished with exactly one of Commit or Abort.
// [Editor.AbortUnlessCommitted] is safe to defer.
type Editor struct {
	cache *Cache
	entry *entry

	// written[i] is set once a sink was opened for index i in this edit.
	written []bool

	// sinks tracks handed-out sinks so Commit can close stragglers before
	// publishing.
	sinks []*sink

	// hasErrors records an absorbed sink failure. Atomic because sinks
	// write without the cache lock.
	hasErrors atomic.Bool

	// done is true after commit or abort. Guarded by cache.mu.
	done bool
}

func newEditor(c *Cache, e *entry) *Editor {
	return &Editor{
		cache:   c,
		entry:   e,
		written: make([]bool, c.valueCount),
	}
}

// NewSink returns a write sink for the dirty file at index i, creating the
// file. Errors while writing are absorbed by the sink; they mark the
// editor so that Commit degrades to Abort.
//
// Possible errors: [ErrInvalidArgument], [ErrIllegalState].
func (ed *Editor) NewSink(i int) (io.WriteCloser, error) {
	c := ed.cache

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIndex(i); err != nil {
		return nil, err
	}

	if ed.done || ed.entry.current != ed {
		return nil, errEditorDone
	}

	ed.written[i] = true

	f, err := c.fsys.Create(ed.entry.dirtyFile(c.dir, i))
	if err != nil {
		// The sink contract absorbs IO failures: hand back a black hole
		// and let Commit degrade to Abort.
		ed.hasErrors.Store(true)
		f = nil
	}

	s := &sink{editor: ed, file: f}
	ed.sinks = append(ed.sinks, s)

	return s, nil
}

// NewSource returns a reader over the clean file at index i.
//
// Returns (nil, false, nil) if the entry has never been published or the
// clean file is missing. The caller must Close the reader.
//
// Possible errors: [ErrInvalidArgument], [ErrIllegalState].
func (ed *Editor) NewSource(i int) (io.ReadCloser, bool, error) {
	c := ed.cache

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIndex(i); err != nil {
		return nil, false, err
	}

	if ed.done || ed.entry.current != ed {
		return nil, false, errEditorDone
	}

	if !ed.entry.readable {
		return nil, false, nil
	}

	f, err := c.fsys.Open(ed.entry.cleanFile(c.dir, i))
	if err != nil {
		return nil, false, nil
	}

	return f, true, nil
}

// Set writes value to the sink at index i.
func (ed *Editor) Set(i int, value string) error {
	s, err := ed.NewSink(i)
	if err != nil {
		return err
	}

	_, _ = io.WriteString(s, value) // sink absorbs write errors

	return s.Close()
}

// GetString reads the clean file at index i.
// Returns ("", false, nil) if the entry has never been published or the
// file is missing.
func (ed *Editor) GetString(i int) (string, bool, error) {
	src, ok, err := ed.NewSource(i)
	if err != nil || !ok {
		return "", ok, err
	}

	defer func() { _ = src.Close() }()

	b, err := io.ReadAll(src)
	if err != nil {
		return "", false, fmt.Errorf("reading clean file: %w", err)
	}

	return string(b), true, nil
}

// Commit publishes the staged values atomically: each written dirty file
// replaces its clean file via rename, lengths and the size counter update,
// and a CLEAN record is journaled. For an update, unwritten indices keep
// their previous values.
//
// Committing a never-published entry with unwritten indices fails with
// [ErrIllegalState]; the caller is expected to Abort. If a sink absorbed a
// write error, Commit aborts instead of publishing.
//
// Possible errors: [ErrIllegalState], IO.
func (ed *Editor) Commit() error {
	c := ed.cache

	c.mu.Lock()
	defer c.mu.Unlock()

	if ed.done || ed.entry.current != ed {
		return errEditorDone
	}

	// Close straggler sinks so every dirty byte is on disk before rename.
	ed.closeSinks()

	if ed.hasErrors.Load() {
		return c.completeEditLocked(ed, false)
	}

	if !ed.entry.readable {
		for i, w := range ed.written {
			if !w {
				return fmt.Errorf("newly created entry %q must have a value for index %d: %w",
					ed.entry.key, i, ErrIllegalState)
			}
		}
	}

	return c.completeEditLocked(ed, true)
}

// Abort discards the staged values. A never-published entry leaves the
// table (journaled as REMOVE); an updated entry keeps its previous values.
//
// Possible errors: [ErrIllegalState], IO.
func (ed *Editor) Abort() error {
	c := ed.cache

	c.mu.Lock()
	defer c.mu.Unlock()

	if ed.done || ed.entry.current != ed {
		return errEditorDone
	}

	ed.closeSinks()

	return c.completeEditLocked(ed, false)
}

// AbortUnlessCommitted aborts if the editor is still in flight.
// Safe to defer next to a conditional Commit.
func (ed *Editor) AbortUnlessCommitted() {
	c := ed.cache

	c.mu.Lock()
	defer c.mu.Unlock()

	if ed.done || ed.entry.current != ed {
		return
	}

	ed.closeSinks()
	_ = c.completeEditLocked(ed, false)
}

// closeSinks closes all handed-out sinks, absorbing errors onto the
// editor. Idempotent.
func (ed *Editor) closeSinks() {
	for _, s := range ed.sinks {
		_ = s.Close()
	}
}

// checkIndex validates a value index against the cache arity.
func (c *Cache) checkIndex(i int) error {
	if i < 0 || i >= c.valueCount {
		return fmt.Errorf("index %d out of range [0,%d): %w", i, c.valueCount, ErrInvalidArgument)
	}

	return nil
}

// completeEditLocked finishes an edit. With success, written dirty files
// rename over their clean files and the entry publishes under a fresh
// sequence number. Without, dirty files are deleted and a never-published
// entry leaves the table.
//
// The journal record (CLEAN or REMOVE) is appended and flushed before
// returning; a flush failure poisons the cache and surfaces here.
func (c *Cache) completeEditLocked(ed *Editor, success bool) error {
	e := ed.entry
	ed.done = true
	c.redundantOpCount++
	e.current = nil

	for i := range c.valueCount {
		dirty := e.dirtyFile(c.dir, i)

		if !success || !ed.written[i] {
			_ = c.fsys.Remove(dirty)

			continue
		}

		exists, err := c.fsys.Exists(dirty)
		if err != nil || !exists {
			continue
		}

		clean := e.cleanFile(c.dir, i)

		if err := c.fsys.Rename(dirty, clean); err != nil {
			// Publication of this index failed; the previous clean file
			// (if any) stays authoritative.
			_ = c.fsys.Remove(dirty)

			continue
		}

		var newLength int64

		if info, err := c.fsys.Stat(clean); err == nil {
			newLength = info.Size()
		}

		c.size += newLength - e.lengths[i]
		e.lengths[i] = newLength
	}

	if e.readable || success {
		e.readable = true
		_ = c.appendRecordLocked(journalRecord(opClean, e.key) + e.lengthsRecord())

		if success {
			e.sequence = c.nextSequence
			c.nextSequence++
		}
	} else {
		delete(c.entries, e.key)
		c.lru.Remove(e.elem)
		_ = c.appendRecordLocked(journalRecord(opRemove, e.key))
	}

	flushErr := c.flushJournalLocked()

	if c.size > c.maxSize || c.journalRebuildRequired() {
		c.scheduleCleanupLocked()
	}

	return flushErr
}

// sink is the fault-hiding writer over one dirty file.
//
// Writes never fail from the caller's perspective: an underlying error is
// absorbed, recorded on the editor, and the write reported as complete.
type sink struct {
	editor *Editor

	mu     sync.Mutex
	file   fs.File // nil when the dirty file could not be created
	closed bool
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errEditorDone
	}

	if s.file == nil {
		return len(p), nil
	}

	n, err := s.file.Write(p)
	if err != nil || n < len(p) {
		s.editor.hasErrors.Store(true)

		return len(p), nil
	}

	return n, nil
}

func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.editor.hasErrors.Store(true)
		}
	}

	return nil
}

// Compile-time interface check.
var _ io.WriteCloser = (*sink)(nil)
