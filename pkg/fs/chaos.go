package fs

import (
	"errors"
	"io/fs"
	"math/rand"
	"os"
	"sync"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection. Partially initialized configs
// only inject faults for the specified rates; unset fields default to 0.0.
type ChaosConfig struct {
	// OpenFailRate controls how often Open, Create, OpenFile, and MkdirAll
	// fail, returning EIO or EACCES.
	OpenFailRate float64

	// ReadFailRate controls how often File.Read, ReadFile, and ReadDir fail
	// entirely, returning zero bytes and EIO.
	ReadFailRate float64

	// WriteFailRate controls how often File.Write and WriteFileAtomic fail
	// entirely, writing zero bytes and returning ENOSPC.
	WriteFailRate float64

	// SyncFailRate controls how often File.Sync fails. Sync failures can
	// surface delayed write errors that weren't reported during Write.
	SyncFailRate float64

	// RemoveFailRate controls how often Remove and RemoveAll fail,
	// returning EACCES or EBUSY.
	RemoveFailRate float64

	// RenameFailRate controls how often Rename fails. Returns an
	// *os.LinkError with an errno, like [os.Rename].
	RenameFailRate float64

	// StatFailRate controls how often Stat and Exists fail on a path,
	// returning EIO.
	StatFailRate float64
}

// ChaosError marks an error as intentionally injected by [Chaos].
//
// It wraps the underlying error so errors.Is/As continue to work.
// Errno-style errors are wrapped in an [*fs.PathError] (or [*os.LinkError]
// for rename) so errors.Is against the errno or the io/fs sentinels (such
// as fs.ErrPermission) keeps working via unwrapping, while [IsChaosErr] can
// still distinguish chaos vs real OS errors in tests. The os.IsNotExist and
// os.IsPermission helpers do not unwrap a ChaosError.
type ChaosError struct {
	Err error
}

// Error returns a formatted error message.
func (e *ChaosError) Error() string {
	return "chaos: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ChaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
// Returns false if err is nil.
func IsChaosErr(err error) bool {
	var injected *ChaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects random failures for testing.
//
// It is a "real filesystem + fault injection" wrapper, not a filesystem
// simulator. Chaos does not maintain per-path "sticky" fault state; each
// call independently decides whether to inject.
//
// Chaos never injects ENOENT: any os.IsNotExist result originates from the
// underlying filesystem, so existence checks stay truthful.
//
// Safe for concurrent use.
type Chaos struct {
	mu     sync.Mutex
	fsys   FS
	rng    *rand.Rand
	config ChaosConfig
}

// NewChaos creates a new [Chaos] filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
// Panics if fsys is nil.
func NewChaos(fsys FS, seed int64, config ChaosConfig) *Chaos {
	if fsys == nil {
		panic("fsys is nil")
	}

	return &Chaos{
		fsys:   fsys,
		rng:    rand.New(rand.NewSource(seed)),
		config: config,
	}
}

// SetConfig replaces the fault configuration.
// Setting a zero [ChaosConfig] disables all injection.
func (c *Chaos) SetConfig(config ChaosConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.config = config
}

// hit rolls the dice for one fault rate.
func (c *Chaos) hit(rate float64) bool {
	if rate <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64() < rate
}

// cfg returns a copy of the current fault configuration.
func (c *Chaos) cfg() ChaosConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.config
}

func chaosPathErr(op, path string, errno syscall.Errno) error {
	return &ChaosError{Err: &fs.PathError{Op: op, Path: path, Err: errno}}
}

func (c *Chaos) Open(path string) (File, error) {
	if c.hit(c.cfg().OpenFailRate) {
		return nil, chaosPathErr("open", path, syscall.EIO)
	}

	f, err := c.fsys.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{chaos: c, file: f, path: path}, nil
}

func (c *Chaos) Create(path string) (File, error) {
	if c.hit(c.cfg().OpenFailRate) {
		return nil, chaosPathErr("open", path, syscall.EACCES)
	}

	f, err := c.fsys.Create(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{chaos: c, file: f, path: path}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.hit(c.cfg().OpenFailRate) {
		return nil, chaosPathErr("open", path, syscall.EIO)
	}

	f, err := c.fsys.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{chaos: c, file: f, path: path}, nil
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.hit(c.cfg().ReadFailRate) {
		return nil, chaosPathErr("read", path, syscall.EIO)
	}

	return c.fsys.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if c.hit(c.cfg().WriteFailRate) {
		return chaosPathErr("write", path, syscall.ENOSPC)
	}

	return c.fsys.WriteFileAtomic(path, data, perm)
}

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	if c.hit(c.cfg().ReadFailRate) {
		return nil, chaosPathErr("readdirent", path, syscall.EIO)
	}

	return c.fsys.ReadDir(path)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if c.hit(c.cfg().OpenFailRate) {
		return chaosPathErr("mkdir", path, syscall.EACCES)
	}

	return c.fsys.MkdirAll(path, perm)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.hit(c.cfg().StatFailRate) {
		return nil, chaosPathErr("stat", path, syscall.EIO)
	}

	return c.fsys.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if c.hit(c.cfg().StatFailRate) {
		return false, chaosPathErr("stat", path, syscall.EIO)
	}

	return c.fsys.Exists(path)
}

func (c *Chaos) Remove(path string) error {
	if c.hit(c.cfg().RemoveFailRate) {
		return chaosPathErr("remove", path, syscall.EBUSY)
	}

	return c.fsys.Remove(path)
}

func (c *Chaos) RemoveAll(path string) error {
	if c.hit(c.cfg().RemoveFailRate) {
		return chaosPathErr("remove", path, syscall.EACCES)
	}

	return c.fsys.RemoveAll(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.hit(c.cfg().RenameFailRate) {
		return &ChaosError{Err: &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EIO}}
	}

	return c.fsys.Rename(oldpath, newpath)
}

// Lock passes through to the underlying filesystem.
// Lock contention is not part of the chaos fault model.
func (c *Chaos) Lock(path string) (Locker, error) {
	return c.fsys.Lock(path)
}

// chaosFile wraps a [File] and injects read/write/sync faults.
type chaosFile struct {
	chaos *Chaos
	file  File
	path  string
}

func (f *chaosFile) Read(p []byte) (int, error) {
	if f.chaos.hit(f.chaos.cfg().ReadFailRate) {
		return 0, chaosPathErr("read", f.path, syscall.EIO)
	}

	return f.file.Read(p)
}

func (f *chaosFile) Write(p []byte) (int, error) {
	if f.chaos.hit(f.chaos.cfg().WriteFailRate) {
		return 0, chaosPathErr("write", f.path, syscall.ENOSPC)
	}

	return f.file.Write(p)
}

func (f *chaosFile) Seek(offset int64, whence int) (int64, error) {
	return f.file.Seek(offset, whence)
}

func (f *chaosFile) Close() error {
	return f.file.Close()
}

func (f *chaosFile) Fd() uintptr {
	return f.file.Fd()
}

func (f *chaosFile) Stat() (os.FileInfo, error) {
	return f.file.Stat()
}

func (f *chaosFile) Sync() error {
	if f.chaos.hit(f.chaos.cfg().SyncFailRate) {
		return chaosPathErr("sync", f.path, syscall.EIO)
	}

	return f.file.Sync()
}

// Compile-time interface checks.
var (
	_ FS   = (*Chaos)(nil)
	_ File = (*chaosFile)(nil)
)
