package fs

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func Test_Chaos_Zero_Config_Passes_Operations_Through(t *testing.T) {
	t.Parallel()

	fsys := NewChaos(NewReal(), 1, ChaosConfig{})
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")

	f, err := fsys.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if got, want := string(data), "hello"; got != want {
		t.Fatalf("data=%q, want=%q", got, want)
	}
}

func Test_Chaos_Injects_Write_Failures_At_Full_Rate(t *testing.T) {
	t.Parallel()

	fsys := NewChaos(NewReal(), 1, ChaosConfig{WriteFailRate: 1.0})
	dir := t.TempDir()

	f, err := fsys.Create(filepath.Join(dir, "file.txt"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	defer f.Close()

	_, err = f.Write([]byte("doomed"))
	if err == nil {
		t.Fatal("write succeeded at WriteFailRate=1.0")
	}

	if !IsChaosErr(err) {
		t.Fatalf("err=%v, want a chaos-injected error", err)
	}
}

func Test_Chaos_Injected_Errors_Unwrap_To_Errnos(t *testing.T) {
	t.Parallel()

	fsys := NewChaos(NewReal(), 1, ChaosConfig{RemoveFailRate: 1.0})
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")

	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	err := fsys.Remove(path)
	if err == nil {
		t.Fatal("Remove succeeded at RemoveFailRate=1.0")
	}

	if !IsChaosErr(err) {
		t.Fatalf("err=%v, want a chaos-injected error", err)
	}

	if !errors.Is(err, syscall.EBUSY) {
		t.Fatalf("err=%v, want it to unwrap to EBUSY", err)
	}

	// Chaos never injects ENOENT.
	if errors.Is(err, os.ErrNotExist) {
		t.Fatalf("chaos injected a not-exist error: %v", err)
	}
}

func Test_Chaos_Zero_Config_Exists_Reports_Missing_Path(t *testing.T) {
	t.Parallel()

	fsys := NewChaos(NewReal(), 1, ChaosConfig{})
	dir := t.TempDir()

	exists, err := fsys.Exists(filepath.Join(dir, "missing"))
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}

	if exists {
		t.Fatal("Exists reported true for a missing path")
	}
}

func Test_Chaos_SetConfig_Toggles_Injection(t *testing.T) {
	t.Parallel()

	fsys := NewChaos(NewReal(), 1, ChaosConfig{})
	dir := t.TempDir()

	f, err := fsys.Create(filepath.Join(dir, "file.txt"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	defer f.Close()

	fsys.SetConfig(ChaosConfig{WriteFailRate: 1.0})

	if _, err := f.Write([]byte("x")); err == nil {
		t.Fatal("write succeeded after enabling injection")
	}

	fsys.SetConfig(ChaosConfig{})

	if _, err := f.Write([]byte("x")); err != nil {
		t.Fatalf("write failed after disabling injection: %v", err)
	}
}
