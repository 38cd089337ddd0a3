package disklru

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Journal file names within the cache directory.
const (
	journalFile    = "journal"
	journalFileTmp = "journal.tmp"
	journalFileBkp = "journal.bkp"
)

// Journal header fields. The header is five lines: magic, format version,
// app version, value count, and a blank line.
const (
	journalMagic   = "libcore.io.DiskLruCache"
	journalVersion = "1"
)

// Journal record opcodes. One record per line, space-separated tokens,
// every line terminated by '\n'.
const (
	opClean  = "CLEAN"
	opDirty  = "DIRTY"
	opRead   = "READ"
	opRemove = "REMOVE"
)

// redundantOpCompactThreshold is the minimum number of appended records
// before a rebuild is considered. The effective threshold is
// max(redundantOpCompactThreshold, len(entries)) to amortize rebuild cost
// on large caches.
const redundantOpCompactThreshold = 2000

func (c *Cache) journalPath() string {
	return filepath.Join(c.dir, journalFile)
}

// appendRecordLocked appends one record line to the journal buffer.
// A write failure poisons the cache: the error is stored and every
// subsequent mutation returns it.
func (c *Cache) appendRecordLocked(record string) error {
	if c.journalErr != nil {
		return c.journalErr
	}

	if _, err := c.journal.WriteString(record + "\n"); err != nil {
		c.journalErr = fmt.Errorf("appending journal record: %w", err)

		return c.journalErr
	}

	return nil
}

// flushJournalLocked flushes the buffered journal writer to the OS.
func (c *Cache) flushJournalLocked() error {
	if c.journalErr != nil {
		return c.journalErr
	}

	if err := c.journal.Flush(); err != nil {
		c.journalErr = fmt.Errorf("flushing journal: %w", err)

		return c.journalErr
	}

	return nil
}

// journalRebuildRequired reports whether enough redundant records have
// accumulated to pay for a compaction.
func (c *Cache) journalRebuildRequired() bool {
	return c.redundantOpCount >= redundantOpCompactThreshold &&
		c.redundantOpCount >= len(c.entries)
}

// writeJournalHeader writes the five header lines.
func writeJournalHeader(w *bufio.Writer, appVersion, valueCount int) {
	fmt.Fprintf(w, "%s\n%s\n%d\n%d\n\n", journalMagic, journalVersion, appVersion, valueCount)
}

// openJournalWriterLocked opens the active journal in append mode and
// installs the buffered writer.
func (c *Cache) openJournalWriterLocked() error {
	f, err := c.fsys.OpenFile(c.journalPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal for append: %w", err)
	}

	c.journalFile = f
	c.journal = bufio.NewWriter(f)
	c.journalErr = nil

	return nil
}

// closeJournalLocked flushes and closes the active journal writer.
// Safe to call when no journal is open.
func (c *Cache) closeJournalLocked() error {
	if c.journalFile == nil {
		return nil
	}

	var firstErr error

	if c.journal != nil {
		if err := c.journal.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flushing journal: %w", err)
		}
	}

	if err := c.journalFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing journal: %w", err)
	}

	c.journal = nil
	c.journalFile = nil

	return firstErr
}

// rebuildJournalLocked replaces the active journal with a compacted
// equivalent containing only the header plus one record per entry:
// CLEAN for readable entries, DIRTY for entries with an in-flight edit.
//
// The replacement uses the backup-rename dance so a crash at any point
// leaves either the old journal, the backup, or the new journal intact:
//
//  1. write journal.tmp
//  2. rename journal -> journal.bkp (if journal exists)
//  3. rename journal.tmp -> journal
//  4. delete journal.bkp
func (c *Cache) rebuildJournalLocked() error {
	if err := c.closeJournalLocked(); err != nil {
		return err
	}

	tmpPath := filepath.Join(c.dir, journalFileTmp)

	f, err := c.fsys.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", journalFileTmp, err)
	}

	w := bufio.NewWriter(f)
	writeJournalHeader(w, c.appVersion, c.valueCount)

	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.current != nil {
			fmt.Fprintf(w, "%s %s\n", opDirty, e.key)
		} else {
			fmt.Fprintf(w, "%s %s%s\n", opClean, e.key, e.lengthsRecord())
		}
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()

		return fmt.Errorf("writing %s: %w", journalFileTmp, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()

		return fmt.Errorf("syncing %s: %w", journalFileTmp, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", journalFileTmp, err)
	}

	journalPath := c.journalPath()
	bkpPath := filepath.Join(c.dir, journalFileBkp)

	exists, err := c.fsys.Exists(journalPath)
	if err != nil {
		return fmt.Errorf("checking journal: %w", err)
	}

	if exists {
		if err := c.fsys.Rename(journalPath, bkpPath); err != nil {
			return fmt.Errorf("backing up journal: %w", err)
		}
	}

	if err := c.fsys.Rename(tmpPath, journalPath); err != nil {
		return fmt.Errorf("publishing journal: %w", err)
	}

	if err := c.fsys.Remove(bkpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", journalFileBkp, err)
	}

	if err := c.openJournalWriterLocked(); err != nil {
		return err
	}

	c.redundantOpCount = len(c.entries)

	return nil
}

// journalRecord joins opcode and key into one record line (no newline).
func journalRecord(op, key string) string {
	return op + " " + key
}

// splitRecordTokens splits a record line into its space-separated tokens.
// Empty tokens (from doubled or leading/trailing spaces) are parse errors,
// surfaced by the caller as corruption.
func splitRecordTokens(line string) []string {
	return strings.Split(line, " ")
}
