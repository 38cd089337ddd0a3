package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Lock files live in a .locks subdirectory so that acquiring or releasing
// a lock never changes the mtime of the directory being guarded.
const locksDirName = ".locks"

const (
	lockAcquireTimeout = 2 * time.Second
	lockPollInterval   = 25 * time.Millisecond

	lockFilePerms = 0o644
	locksDirPerms = 0o755
)

// dirLock is a held advisory flock.
//
// The lock file itself is left in place on release: the flock evaporates
// with the file descriptor, and keeping the file avoids the delete/recreate
// race where two processes can end up holding locks on different inodes of
// the same path.
type dirLock struct {
	file *os.File
}

// Close releases the flock. Idempotent.
func (l *dirLock) Close() error {
	if l.file == nil {
		return nil
	}

	flockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if flockErr != nil {
		return fmt.Errorf("unlocking: %w", flockErr)
	}

	return closeErr
}

// lockFilePath maps a guarded path to its lock file:
// <dir>/<base> -> <dir>/.locks/<base>.lock.
func lockFilePath(path string) string {
	return filepath.Join(filepath.Dir(path), locksDirName, filepath.Base(path)+".lock")
}

// Lock acquires an exclusive advisory lock guarding path.
//
// Acquisition polls a non-blocking flock until it succeeds or the timeout
// elapses, in which case os.ErrDeadlineExceeded is returned. The lock is
// inherited-by-nobody: it belongs to this file descriptor and dies with
// the process, so a crash can never leave the path permanently locked.
func (r *Real) Lock(path string) (Locker, error) {
	lockPath := lockFilePath(path)

	if err := os.MkdirAll(filepath.Dir(lockPath), locksDirPerms); err != nil {
		return nil, fmt.Errorf("creating locks directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, lockFilePerms)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	deadline := time.Now().Add(lockAcquireTimeout)

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &dirLock{file: f}, nil
		}

		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			_ = f.Close()

			return nil, fmt.Errorf("locking %s: %w", lockPath, err)
		}

		if time.Now().After(deadline) {
			_ = f.Close()

			return nil, os.ErrDeadlineExceeded
		}

		time.Sleep(lockPollInterval)
	}
}
