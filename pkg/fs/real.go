package fs

import (
	"bytes"
	"errors"
	iofs "io/fs"
	"os"

	"github.com/natefinch/atomic"
)

// Real is the production [FS].
//
// Every method delegates to the os package and keeps its error semantics,
// so a Real-backed caller behaves exactly like one calling os directly.
// Two methods add behavior the os package does not have on its own:
// [Real.WriteFileAtomic] (crash-safe whole-file replacement) and
// [Real.Lock] (advisory single-owner locking, see lock.go).
type Real struct{}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

// Open delegates to [os.Open].
func (r *Real) Open(path string) (File, error) {
	return os.Open(path)
}

// Create delegates to [os.Create].
func (r *Real) Create(path string) (File, error) {
	return os.Create(path)
}

// OpenFile delegates to [os.OpenFile].
func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

// ReadFile delegates to [os.ReadFile].
func (r *Real) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFileAtomic replaces path's contents via a temp file and rename, so
// a crash mid-write never leaves a partially written file behind.
func (r *Real) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// ReadDir delegates to [os.ReadDir].
func (r *Real) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

// MkdirAll delegates to [os.MkdirAll].
func (r *Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Stat delegates to [os.Stat].
func (r *Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Exists reports whether path names an existing file or directory.
// A missing path is (false, nil); any other stat failure is (false, err).
func (r *Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, iofs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Remove delegates to [os.Remove].
func (r *Real) Remove(path string) error {
	return os.Remove(path)
}

// RemoveAll delegates to [os.RemoveAll].
func (r *Real) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Rename delegates to [os.Rename].
func (r *Real) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// Compile-time interface check.
var _ FS = (*Real)(nil)
