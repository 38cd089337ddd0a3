package disklru_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/disklru/pkg/disklru"
)

const testAppVersion = 100

// mustOpen opens a cache and fails the test on error.
func mustOpen(t *testing.T, dir string, valueCount int, maxSize int64) *disklru.Cache {
	t.Helper()

	c, err := disklru.Open(disklru.Options{
		Dir:        dir,
		AppVersion: testAppVersion,
		ValueCount: valueCount,
		MaxSize:    maxSize,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	return c
}

// put publishes one value per index under key.
func put(t *testing.T, c *disklru.Cache, key string, values ...string) {
	t.Helper()

	ed, ok, err := c.Edit(key)
	if err != nil {
		t.Fatalf("Edit(%q) failed: %v", key, err)
	}

	if !ok {
		t.Fatalf("Edit(%q) refused: another edit in flight", key)
	}

	for i, v := range values {
		if err := ed.Set(i, v); err != nil {
			t.Fatalf("Set(%d) failed: %v", i, err)
		}
	}

	if err := ed.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

// get reads all values for key, or reports a miss.
func get(t *testing.T, c *disklru.Cache, key string, valueCount int) ([]string, bool) {
	t.Helper()

	snap, ok, err := c.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}

	if !ok {
		return nil, false
	}

	defer snap.Close()

	values := make([]string, valueCount)

	for i := range values {
		s, err := snap.String(i)
		if err != nil {
			t.Fatalf("String(%d) failed: %v", i, err)
		}

		values[i] = s
	}

	return values, true
}

// journalBody returns the journal's body records (header stripped).
func journalBody(t *testing.T, dir string) []string {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join(dir, "journal"))
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}

	lines := strings.Split(string(raw), "\n")
	if len(lines) < 6 {
		t.Fatalf("journal too short: %q", raw)
	}

	body := lines[5:]

	// Drop the empty tail produced by the final newline.
	if len(body) > 0 && body[len(body)-1] == "" {
		body = body[:len(body)-1]
	}

	return body
}

// removeFile deletes one file outside the cache's control.
func removeFile(path string) error {
	return os.Remove(path)
}

// fileExists reports whether path exists.
func fileExists(t *testing.T, path string) bool {
	t.Helper()

	_, err := os.Stat(path)
	if err == nil {
		return true
	}

	if os.IsNotExist(err) {
		return false
	}

	t.Fatalf("stat %s: %v", path, err)

	return false
}
