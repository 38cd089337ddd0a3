package disklru

import (
	"bufio"
	"container/list"
	"fmt"
	"os"
	"sync"

	"github.com/calvinalkan/disklru/pkg/fs"
)

// Options configures [Open].
type Options struct {
	// Dir is the cache directory. Created if absent. A directory is owned
	// by exactly one Cache in one process at a time.
	Dir string

	// AppVersion is stamped into the journal header. Opening a directory
	// whose journal carries a different app version discards the cache.
	AppVersion int

	// ValueCount is the fixed number of values per entry. Must be positive
	// and identical across sessions for one directory.
	ValueCount int

	// MaxSize is the soft byte budget. Must be positive. The cache may
	// transiently exceed it between operations; eviction drains the excess.
	MaxSize int64

	// FS is the filesystem to operate on. Nil means [fs.NewReal].
	FS fs.FS
}

// Cache is a handle to an open cache directory.
//
// All methods are safe for concurrent use by multiple goroutines. Mutations
// to the entry table, journal, and size counters are serialized under one
// cache-wide mutex; bulk value I/O through [Editor] sinks and [Snapshot]
// sources happens without holding it.
//
// A Cache must be obtained via [Open]; the zero value is not usable.
type Cache struct {
	_ [0]func() // prevent external construction

	fsys       fs.FS
	dir        string
	appVersion int
	valueCount int

	// mu protects all fields below.
	mu sync.Mutex

	maxSize int64

	// size is the summed clean-file lengths over readable entries. While
	// an edit is in flight the pre-edit lengths still count.
	size int64

	// entries maps key to record; lru keeps the same records in access
	// order, least recently used at the front.
	entries map[string]*entry
	lru     *list.List

	journal     *bufio.Writer
	journalFile fs.File

	// journalErr poisons the cache after a journal write failure: every
	// subsequent mutation returns it. Close stays safe to call.
	journalErr error

	// redundantOpCount counts records appended since the last rebuild.
	redundantOpCount int

	// nextSequence stamps published entry versions. Starts at 1 so that
	// recovered entries (sequence 0) never alias a live publish.
	nextSequence int64

	dirLock fs.Locker

	closed bool

	// Background worker state. The worker runs eviction drains and journal
	// rebuilds; cleanupScheduled is true while a pass is queued or running,
	// and cleanupDone broadcasts when a pass finishes.
	cleanupScheduled bool
	cleanupDone      *sync.Cond
	cleanupCh        chan struct{}
	workerDone       chan struct{}
}

// anySequence makes edit skip the snapshot staleness check.
const anySequence = -1

// Get returns a [Snapshot] over the entry's current values.
//
// Returns (nil, false, nil) if the key has no readable entry. The snapshot
// holds open file handles valid even after the entry is later overwritten
// or evicted; the caller must Close it.
//
// Possible errors: [ErrInvalidArgument], [ErrIllegalState], IO.
func (c *Cache) Get(key string) (*Snapshot, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, ErrCacheClosed
	}

	e := c.entries[key]
	if e == nil || !e.readable {
		return nil, false, nil
	}

	sources := make([]fs.File, c.valueCount)

	for i := range sources {
		f, err := c.fsys.Open(e.cleanFile(c.dir, i))
		if err != nil {
			for _, open := range sources {
				if open != nil {
					_ = open.Close()
				}
			}

			// A clean file went missing behind our back. The entry is
			// stale; drop it and report a miss.
			_ = c.deleteEntryLocked(e, false)

			return nil, false, nil
		}

		sources[i] = f
	}

	c.redundantOpCount++

	if err := c.appendRecordLocked(journalRecord(opRead, key)); err != nil {
		for _, f := range sources {
			_ = f.Close()
		}

		return nil, false, err
	}

	c.lru.MoveToBack(e.elem)

	if c.journalRebuildRequired() {
		c.scheduleCleanupLocked()
	}

	lengths := make([]int64, len(e.lengths))
	copy(lengths, e.lengths)

	return &Snapshot{
		cache:    c,
		key:      key,
		sequence: e.sequence,
		lengths:  lengths,
		sources:  sources,
	}, true, nil
}

// Edit starts an exclusive edit of key, creating the entry if absent.
//
// Returns (nil, false, nil) when another edit of the same key is already in
// flight. The returned [Editor] must be finished with Commit or Abort.
//
// Possible errors: [ErrInvalidArgument], [ErrIllegalState], IO.
func (c *Cache) Edit(key string) (*Editor, bool, error) {
	return c.edit(key, anySequence)
}

func (c *Cache) edit(key string, expectedSequence int64) (*Editor, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, ErrCacheClosed
	}

	e := c.entries[key]

	if expectedSequence != anySequence && (e == nil || e.sequence != expectedSequence) {
		// The snapshot this edit came from is stale.
		return nil, false, nil
	}

	if e != nil && e.current != nil {
		// Another edit is in flight.
		return nil, false, nil
	}

	created := false

	if e == nil {
		e = newEntry(key, c.valueCount)
		c.entries[key] = e
		e.elem = c.lru.PushBack(e)
		created = true
	} else {
		// Starting an edit counts as an access.
		c.lru.MoveToBack(e.elem)
	}

	ed := newEditor(c, e)
	e.current = ed

	// The DIRTY record must reach the journal before the edit is handed
	// out, so recovery can reconcile a crashed edit's files.
	c.redundantOpCount++

	if c.appendRecordLocked(journalRecord(opDirty, key)) == nil {
		_ = c.flushJournalLocked()
	}

	if c.journalErr != nil {
		e.current = nil

		if created {
			delete(c.entries, key)
			c.lru.Remove(e.elem)
		}

		return nil, false, c.journalErr
	}

	return ed, true, nil
}

// Remove deletes the entry and its clean files.
//
// Returns (false, nil) if the key is absent or an edit is in flight.
// A clean file that exists but cannot be deleted aborts with an IO error
// and leaves the entry in the table.
//
// Possible errors: [ErrInvalidArgument], [ErrIllegalState], IO.
func (c *Cache) Remove(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrCacheClosed
	}

	if c.journalErr != nil {
		return false, c.journalErr
	}

	e := c.entries[key]
	if e == nil || e.current != nil {
		return false, nil
	}

	if err := c.deleteEntryLocked(e, true); err != nil {
		return false, err
	}

	return true, nil
}

// EvictAll removes every entry that has no edit in flight.
//
// Returns the first IO error encountered; later entries are still
// attempted.
func (c *Cache) EvictAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}

	if c.journalErr != nil {
		return c.journalErr
	}

	var firstErr error

	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)

		if e.current == nil {
			if err := c.deleteEntryLocked(e, true); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		el = next
	}

	return firstErr
}

// Keys returns a point-in-time copy of the readable keys in current LRU
// order, least recently used first. The order is not stable across calls
// that touch entries.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	keys := make([]string, 0, c.lru.Len())

	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.readable {
			keys = append(keys, e.key)
		}
	}

	return keys
}

// Size returns the current byte total over readable entries.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// MaxSize returns the current byte budget.
func (c *Cache) MaxSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.maxSize
}

// SetMaxSize updates the byte budget and schedules eviction. The new limit
// is observable after [Cache.Flush] returns.
//
// Possible errors: [ErrInvalidArgument], [ErrIllegalState], IO.
func (c *Cache) SetMaxSize(maxSize int64) error {
	if maxSize <= 0 {
		return fmt.Errorf("max size must be positive: %w", ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}

	if c.journalErr != nil {
		return c.journalErr
	}

	c.maxSize = maxSize

	if c.size > c.maxSize {
		c.scheduleCleanupLocked()
	}

	return nil
}

// Flush flushes the journal writer and drains pending background work so
// the size budget and journal state hold for inspection.
//
// Possible errors: [ErrIllegalState], IO.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}

	c.waitForCleanupLocked()
	c.evictLocked()

	return c.flushJournalLocked()
}

// Close aborts in-flight editors, drains eviction, flushes and closes the
// journal, and releases the directory lock.
//
// Close is idempotent; subsequent calls are no-ops. After Close, every
// other method that returns an error returns [ErrCacheClosed], and Keys
// returns nil.
func (c *Cache) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.waitForCleanupLocked()

	// Aborting mutates the table, so collect the editors first. Aborting
	// converts never-published entries to REMOVE records and leaves
	// updated entries at their previous values.
	var editors []*Editor

	for _, e := range c.entries {
		if e.current != nil {
			editors = append(editors, e.current)
		}
	}

	for _, ed := range editors {
		ed.closeSinks()
		_ = c.completeEditLocked(ed, false)
	}

	c.evictLocked()

	closeErr := c.closeJournalLocked()

	c.entries = make(map[string]*entry)
	c.lru.Init()
	c.closed = true

	c.mu.Unlock()

	close(c.cleanupCh)
	<-c.workerDone

	if c.dirLock != nil {
		if err := c.dirLock.Close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("releasing directory lock: %w", err)
		}
	}

	return closeErr
}

// deleteEntryLocked removes e's clean files, subtracts its lengths from the
// size counter, drops it from the table, and appends a REMOVE record.
//
// With strict set, a clean file that exists but cannot be deleted aborts
// with an IO error before the table changes. Without strict, deletion is
// best-effort (eviction, stale-entry cleanup).
func (c *Cache) deleteEntryLocked(e *entry, strict bool) error {
	for i := range c.valueCount {
		path := e.cleanFile(c.dir, i)

		err := c.fsys.Remove(path)
		if err != nil && !os.IsNotExist(err) && strict {
			return fmt.Errorf("deleting %s: %w", path, err)
		}
	}

	c.size -= e.total()

	for i := range e.lengths {
		e.lengths[i] = 0
	}

	c.redundantOpCount++
	_ = c.appendRecordLocked(journalRecord(opRemove, e.key))

	delete(c.entries, e.key)
	c.lru.Remove(e.elem)

	if c.journalRebuildRequired() {
		c.scheduleCleanupLocked()
	}

	return nil
}

// evictLocked removes least-recently-used entries until the size fits the
// budget. Entries with an in-flight editor are skipped; their commit
// re-triggers eviction.
func (c *Cache) evictLocked() {
	for c.size > c.maxSize {
		var victim *entry

		for el := c.lru.Front(); el != nil; el = el.Next() {
			e := el.Value.(*entry)
			if e.current == nil {
				victim = e

				break
			}
		}

		if victim == nil {
			return
		}

		_ = c.deleteEntryLocked(victim, false)
	}
}

// scheduleCleanupLocked queues one background pass. At most one pass is
// outstanding; the pass reads current state, so coalescing is safe.
func (c *Cache) scheduleCleanupLocked() {
	if c.closed || c.cleanupScheduled {
		return
	}

	c.cleanupScheduled = true

	select {
	case c.cleanupCh <- struct{}{}:
	default:
	}
}

// waitForCleanupLocked blocks until no background pass is queued or running.
func (c *Cache) waitForCleanupLocked() {
	for c.cleanupScheduled {
		c.cleanupDone.Wait()
	}
}

// worker is the single background goroutine. It executes eviction drains
// and journal rebuilds so callers' critical sections stay short.
func (c *Cache) worker() {
	defer close(c.workerDone)

	for range c.cleanupCh {
		c.mu.Lock()

		if !c.closed {
			c.evictLocked()

			if c.journalRebuildRequired() && c.journalErr == nil {
				if err := c.rebuildJournalLocked(); err != nil && c.journalErr == nil {
					c.journalErr = err
				}
			}
		}

		c.cleanupScheduled = false
		c.cleanupDone.Broadcast()
		c.mu.Unlock()
	}
}
