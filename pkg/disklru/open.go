package disklru

import (
	"bufio"
	"container/list"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/calvinalkan/disklru/pkg/fs"
)

// locksDirName is the lock-file subdirectory inside the cache directory.
// It is spared when a corrupt cache is wiped, since the held directory
// lock lives there.
const locksDirName = ".locks"

// errCorruptJournal classifies recovery failures internally. It never
// escapes Open: a corrupt journal wipes the directory and starts fresh.
var errCorruptJournal = errors.New("disklru: corrupt journal")

// Open opens (or creates) the cache rooted at opts.Dir.
//
// If a backup journal from an interrupted rebuild exists it is promoted,
// then the journal is replayed to rebuild the in-memory index. Any journal
// that cannot be replayed cleanly — bad header, malformed record, missing
// clean file — discards the directory contents and starts fresh.
//
// Open acquires an exclusive directory lock; a second Open of the same
// directory fails until the first cache is closed.
//
// Possible errors: [ErrInvalidArgument], IO.
func Open(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("directory must not be empty: %w", ErrInvalidArgument)
	}

	if opts.ValueCount <= 0 {
		return nil, fmt.Errorf("value count must be positive: %w", ErrInvalidArgument)
	}

	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("max size must be positive: %w", ErrInvalidArgument)
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	c := &Cache{
		fsys:         fsys,
		dir:          opts.Dir,
		appVersion:   opts.AppVersion,
		valueCount:   opts.ValueCount,
		maxSize:      opts.MaxSize,
		entries:      make(map[string]*entry),
		lru:          list.New(),
		nextSequence: 1,
		cleanupCh:    make(chan struct{}, 1),
		workerDone:   make(chan struct{}),
	}
	c.cleanupDone = sync.NewCond(&c.mu)

	if err := fsys.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	lock, err := fsys.Lock(c.journalPath())
	if err != nil {
		return nil, fmt.Errorf("locking cache directory: %w", err)
	}

	c.dirLock = lock

	if err := c.initialize(); err != nil {
		_ = lock.Close()

		return nil, err
	}

	go c.worker()

	return c, nil
}

// initialize promotes a leftover backup journal, replays the active
// journal if present, and leaves the cache with an open append writer.
// Called without the lock held; the cache is not yet shared.
func (c *Cache) initialize() error {
	journalPath := c.journalPath()
	bkpPath := filepath.Join(c.dir, journalFileBkp)

	// A backup journal is present only if a rebuild was interrupted. If
	// the rename to the new journal happened, the backup is garbage;
	// otherwise the backup is the journal.
	bkpExists, err := c.fsys.Exists(bkpPath)
	if err != nil {
		return fmt.Errorf("checking %s: %w", journalFileBkp, err)
	}

	if bkpExists {
		journalExists, err := c.fsys.Exists(journalPath)
		if err != nil {
			return fmt.Errorf("checking journal: %w", err)
		}

		if journalExists {
			if err := c.fsys.Remove(bkpPath); err != nil {
				return fmt.Errorf("removing %s: %w", journalFileBkp, err)
			}
		} else {
			if err := c.fsys.Rename(bkpPath, journalPath); err != nil {
				return fmt.Errorf("promoting %s: %w", journalFileBkp, err)
			}
		}
	}

	journalExists, err := c.fsys.Exists(journalPath)
	if err != nil {
		return fmt.Errorf("checking journal: %w", err)
	}

	if journalExists {
		truncated, replayErr := c.readJournal()
		if replayErr == nil {
			replayErr = c.processJournal()
		}

		if replayErr == nil {
			if truncated {
				// The final record was cut off mid-write. Compact so the
				// append writer starts on a well-formed journal.
				return c.rebuildJournalLocked()
			}

			return c.openJournalWriterLocked()
		}

		if !errors.Is(replayErr, errCorruptJournal) {
			return replayErr
		}

		// Corrupt journal: discard everything and start fresh.
		c.resetState()

		if err := c.wipeDirectory(); err != nil {
			return err
		}
	}

	return c.rebuildJournalLocked()
}

// readJournal replays the journal body into the entry table.
//
// Returns truncated=true when the final record was unterminated; the
// partial record is discarded and existing readable state preserved.
// All other malformations are corruption.
func (c *Cache) readJournal() (bool, error) {
	f, err := c.fsys.Open(c.journalPath())
	if err != nil {
		return false, fmt.Errorf("%w: opening journal: %v", errCorruptJournal, err)
	}

	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)

	if err := c.readJournalHeader(r); err != nil {
		return false, err
	}

	truncated := false
	lineCount := 0

	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			if line != "" {
				truncated = true
			}

			break
		}

		if err != nil {
			return false, fmt.Errorf("%w: reading journal: %v", errCorruptJournal, err)
		}

		if err := c.applyJournalLine(strings.TrimSuffix(line, "\n")); err != nil {
			return false, err
		}

		lineCount++
	}

	c.redundantOpCount = lineCount - len(c.entries)

	return truncated, nil
}

// readJournalHeader validates the five header lines against the expected
// magic, format version, app version, and value count.
func (c *Cache) readJournalHeader(r *bufio.Reader) error {
	lines := make([]string, 5)

	for i := range lines {
		line, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("%w: short journal header", errCorruptJournal)
		}

		lines[i] = strings.TrimSuffix(line, "\n")
	}

	if lines[0] != journalMagic ||
		lines[1] != journalVersion ||
		lines[2] != strconv.Itoa(c.appVersion) ||
		lines[3] != strconv.Itoa(c.valueCount) ||
		lines[4] != "" {
		return fmt.Errorf("%w: unexpected journal header [%s, %s, %s, %s]",
			errCorruptJournal, lines[0], lines[1], lines[2], lines[3])
	}

	return nil
}

// applyJournalLine replays one body record.
//
// DIRTY attaches a sentinel editor that processJournal reconciles; CLEAN
// detaches it and publishes lengths; READ touches LRU order; REMOVE drops
// the entry. Every record also counts as an access, so replay reproduces
// the LRU order of the previous session.
func (c *Cache) applyJournalLine(line string) error {
	tokens := splitRecordTokens(line)
	if len(tokens) < 2 {
		return fmt.Errorf("%w: unexpected journal line %q", errCorruptJournal, line)
	}

	op, key := tokens[0], tokens[1]

	if validateKey(key) != nil {
		return fmt.Errorf("%w: unexpected journal line %q", errCorruptJournal, line)
	}

	if op == opRemove {
		if len(tokens) != 2 {
			return fmt.Errorf("%w: unexpected journal line %q", errCorruptJournal, line)
		}

		if e := c.entries[key]; e != nil {
			c.lru.Remove(e.elem)
			delete(c.entries, key)
		}

		return nil
	}

	e := c.entries[key]
	if e != nil {
		c.lru.MoveToBack(e.elem)
	}

	switch op {
	case opClean:
		if len(tokens) != 2+c.valueCount {
			return fmt.Errorf("%w: unexpected journal line %q", errCorruptJournal, line)
		}

		// A CLEAN without a preceding DIRTY is normal: rebuilt journals
		// carry one CLEAN per readable entry.
		if e == nil {
			e = newEntry(key, c.valueCount)
			c.entries[key] = e
			e.elem = c.lru.PushBack(e)
		}

		if err := e.setLengths(tokens[2:]); err != nil {
			return fmt.Errorf("%w: unexpected journal line %q: %v", errCorruptJournal, line, err)
		}

		e.current = nil
		e.readable = true

	case opDirty:
		if len(tokens) != 2 {
			return fmt.Errorf("%w: unexpected journal line %q", errCorruptJournal, line)
		}

		if e == nil {
			e = newEntry(key, c.valueCount)
			c.entries[key] = e
			e.elem = c.lru.PushBack(e)
		}

		// Sentinel marking an edit with no CLEAN/REMOVE yet.
		e.current = &Editor{entry: e}

	case opRead:
		if len(tokens) != 2 {
			return fmt.Errorf("%w: unexpected journal line %q", errCorruptJournal, line)
		}

	default:
		return fmt.Errorf("%w: unexpected journal line %q", errCorruptJournal, line)
	}

	return nil
}

// processJournal reconciles disk contents with the replayed table.
//
// Entries whose DIRTY never saw a CLEAN/REMOVE lose both their clean and
// dirty files and leave the table. Readable entries must have every clean
// file on disk; a missing file is corruption.
func (c *Cache) processJournal() error {
	// A leftover journal.tmp is from an interrupted rebuild.
	_ = c.fsys.Remove(filepath.Join(c.dir, journalFileTmp))

	var abandoned []*entry

	for _, e := range c.entries {
		if e.current != nil {
			abandoned = append(abandoned, e)
		}
	}

	for _, e := range abandoned {
		e.current = nil

		for i := range c.valueCount {
			_ = c.fsys.Remove(e.cleanFile(c.dir, i))
			_ = c.fsys.Remove(e.dirtyFile(c.dir, i))
		}

		c.lru.Remove(e.elem)
		delete(c.entries, e.key)
	}

	for _, e := range c.entries {
		for i := range c.valueCount {
			exists, err := c.fsys.Exists(e.cleanFile(c.dir, i))
			if err != nil {
				return fmt.Errorf("checking clean file for %q: %w", e.key, err)
			}

			if !exists {
				return fmt.Errorf("%w: missing clean file %q", errCorruptJournal, e.cleanFile(c.dir, i))
			}
		}

		c.size += e.total()
	}

	return nil
}

// resetState drops all replayed in-memory state before a wipe.
func (c *Cache) resetState() {
	c.entries = make(map[string]*entry)
	c.lru.Init()
	c.size = 0
	c.redundantOpCount = 0
	_ = c.closeJournalLocked()
}

// wipeDirectory deletes everything in the cache directory except the lock
// subdirectory, which holds the lock this process owns.
func (c *Cache) wipeDirectory() error {
	dirEntries, err := c.fsys.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("listing cache directory: %w", err)
	}

	for _, de := range dirEntries {
		if de.Name() == locksDirName {
			continue
		}

		if err := c.fsys.RemoveAll(filepath.Join(c.dir, de.Name())); err != nil {
			return fmt.Errorf("wiping cache directory: %w", err)
		}
	}

	return nil
}
