// Recovery tests.
//
// These exercise the open-time protocol: journal replay, backup-journal
// promotion, reconciliation of crashed edits, and the wipe-and-start-fresh
// response to corruption.

package disklru_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/disklru/pkg/disklru"
	"github.com/google/go-cmp/cmp"
)

func Test_Recovery_Preserves_Entries_Across_Sessions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c := mustOpen(t, dir, 2, unbounded)
	put(t, c, "k1", "ABC", "DE")
	put(t, c, "k2", "x", "yz")

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	c = mustOpen(t, dir, 2, unbounded)
	defer c.Close()

	values, ok := get(t, c, "k1", 2)
	if !ok {
		t.Fatal("k1 lost across sessions")
	}

	if diff := cmp.Diff([]string{"ABC", "DE"}, values); diff != "" {
		t.Fatalf("k1 mismatch (-want +got):\n%s", diff)
	}

	values, ok = get(t, c, "k2", 2)
	if !ok {
		t.Fatal("k2 lost across sessions")
	}

	if diff := cmp.Diff([]string{"x", "yz"}, values); diff != "" {
		t.Fatalf("k2 mismatch (-want +got):\n%s", diff)
	}

	if got, want := c.Size(), int64(8); got != want {
		t.Fatalf("Size=%d, want=%d", got, want)
	}
}

func Test_Recovery_Preserves_LRU_Order_Across_Sessions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c := mustOpen(t, dir, 1, unbounded)
	put(t, c, "a", "11")
	put(t, c, "b", "22")
	put(t, c, "c", "33")

	// Touch a: the READ record must reorder the next session too.
	if _, ok := get(t, c, "a", 1); !ok {
		t.Fatal("Get reported a miss")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	c = mustOpen(t, dir, 1, unbounded)
	defer c.Close()

	if diff := cmp.Diff([]string{"b", "c", "a"}, c.Keys()); diff != "" {
		t.Fatalf("recovered order mismatch (-want +got):\n%s", diff)
	}
}

func Test_Recovery_Promotes_Backup_Journal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c := mustOpen(t, dir, 1, unbounded)
	put(t, c, "k1", "value")

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Simulate a crash between the backup rename and the publish rename.
	if err := os.Rename(filepath.Join(dir, "journal"), filepath.Join(dir, "journal.bkp")); err != nil {
		t.Fatalf("renaming journal: %v", err)
	}

	c = mustOpen(t, dir, 1, unbounded)
	defer c.Close()

	values, ok := get(t, c, "k1", 1)
	if !ok {
		t.Fatal("entry lost after backup promotion")
	}

	if got, want := values[0], "value"; got != want {
		t.Fatalf("value=%q, want=%q", got, want)
	}

	if fileExists(t, filepath.Join(dir, "journal.bkp")) {
		t.Fatal("backup journal survived promotion")
	}
}

func Test_Recovery_Prefers_Journal_Over_Backup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c := mustOpen(t, dir, 1, unbounded)
	put(t, c, "k1", "current")

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A stale backup next to a valid journal must be discarded.
	raw, err := os.ReadFile(filepath.Join(dir, "journal"))
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "journal.bkp"), raw, 0o644); err != nil {
		t.Fatalf("writing backup: %v", err)
	}

	c = mustOpen(t, dir, 1, unbounded)
	defer c.Close()

	if fileExists(t, filepath.Join(dir, "journal.bkp")) {
		t.Fatal("backup journal survived next to a valid journal")
	}

	if _, ok := get(t, c, "k1", 1); !ok {
		t.Fatal("entry lost")
	}
}

func Test_Recovery_Cleans_Up_Edit_With_No_Clean_Record(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c := mustOpen(t, dir, 1, unbounded)
	put(t, c, "published", "keep")

	// An edit that never commits leaves DIRTY with no CLEAN/REMOVE once
	// the process dies. Simulate the crash by writing the record and the
	// dirty file by hand after closing.
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	j, err := os.OpenFile(filepath.Join(dir, "journal"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}

	if _, err := j.WriteString("DIRTY crashed\n"); err != nil {
		t.Fatalf("appending record: %v", err)
	}

	if err := j.Close(); err != nil {
		t.Fatalf("closing journal: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "crashed.0.tmp"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("writing dirty file: %v", err)
	}

	c = mustOpen(t, dir, 1, unbounded)
	defer c.Close()

	if _, ok := get(t, c, "crashed", 1); ok {
		t.Fatal("crashed edit became readable")
	}

	if fileExists(t, filepath.Join(dir, "crashed.0.tmp")) {
		t.Fatal("dirty file of crashed edit survived recovery")
	}

	if _, ok := get(t, c, "published", 1); !ok {
		t.Fatal("unrelated entry lost during recovery")
	}
}

func Test_Recovery_Discards_Unterminated_Final_Record(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c := mustOpen(t, dir, 1, unbounded)
	put(t, c, "k1", "safe")

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A crash mid-append leaves a record without its newline.
	j, err := os.OpenFile(filepath.Join(dir, "journal"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}

	if _, err := j.WriteString("READ k"); err != nil {
		t.Fatalf("appending partial record: %v", err)
	}

	if err := j.Close(); err != nil {
		t.Fatalf("closing journal: %v", err)
	}

	c = mustOpen(t, dir, 1, unbounded)

	// Readable state is preserved...
	if _, ok := get(t, c, "k1", 1); !ok {
		t.Fatal("entry lost after truncated journal")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// ...and the journal was rebuilt without the partial record.
	for _, line := range journalBody(t, dir) {
		if strings.HasPrefix(line, "READ k") && line != "READ k1" {
			t.Fatalf("partial record survived: %q", line)
		}
	}
}

func Test_Recovery_Wipes_Directory_On_Malformed_Record(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c := mustOpen(t, dir, 1, unbounded)
	put(t, c, "k1", "doomed")

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	j, err := os.OpenFile(filepath.Join(dir, "journal"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}

	if _, err := j.WriteString("BOGUS k1\n"); err != nil {
		t.Fatalf("appending record: %v", err)
	}

	if err := j.Close(); err != nil {
		t.Fatalf("closing journal: %v", err)
	}

	c = mustOpen(t, dir, 1, unbounded)
	defer c.Close()

	// The cache started fresh.
	if _, ok := get(t, c, "k1", 1); ok {
		t.Fatal("entry survived a corrupt journal")
	}

	if fileExists(t, filepath.Join(dir, "k1.0")) {
		t.Fatal("value file survived the wipe")
	}

	// The fresh cache works.
	put(t, c, "k2", "fresh")

	if _, ok := get(t, c, "k2", 1); !ok {
		t.Fatal("fresh cache does not accept writes")
	}
}

func Test_Recovery_Wipes_Directory_On_Header_Mismatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		appVersion int
		valueCount int
	}{
		{name: "different_app_version", appVersion: testAppVersion + 1, valueCount: 1},
		{name: "different_value_count", appVersion: testAppVersion, valueCount: 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()

			c := mustOpen(t, dir, 1, unbounded)
			put(t, c, "k1", "old")

			if err := c.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			reopened, err := disklru.Open(disklru.Options{
				Dir:        dir,
				AppVersion: tc.appVersion,
				ValueCount: tc.valueCount,
				MaxSize:    unbounded,
			})
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}

			defer reopened.Close()

			if got, want := reopened.Size(), int64(0); got != want {
				t.Fatalf("Size=%d, want=%d", got, want)
			}

			if fileExists(t, filepath.Join(dir, "k1.0")) {
				t.Fatal("value file survived the wipe")
			}
		})
	}
}

func Test_Recovery_Wipes_Directory_When_Clean_File_Missing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c := mustOpen(t, dir, 2, unbounded)
	put(t, c, "k1", "a", "b")

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "k1.1")); err != nil {
		t.Fatalf("deleting clean file: %v", err)
	}

	c = mustOpen(t, dir, 2, unbounded)
	defer c.Close()

	if got, want := c.Size(), int64(0); got != want {
		t.Fatalf("Size=%d, want=%d", got, want)
	}

	if _, ok := get(t, c, "k1", 2); ok {
		t.Fatal("entry with missing clean file survived recovery")
	}
}

func Test_Recovery_Replays_Remove_Records(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c := mustOpen(t, dir, 1, unbounded)
	put(t, c, "keep", "1")
	put(t, c, "drop", "2")

	if _, err := c.Remove("drop"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	c = mustOpen(t, dir, 1, unbounded)
	defer c.Close()

	if _, ok := get(t, c, "drop", 1); ok {
		t.Fatal("removed entry resurrected")
	}

	if _, ok := get(t, c, "keep", 1); !ok {
		t.Fatal("kept entry lost")
	}

	if got, want := c.Size(), int64(1); got != want {
		t.Fatalf("Size=%d, want=%d", got, want)
	}
}
