package disklru

import (
	"errors"
	"fmt"
	"regexp"
)

// Error classification codes.
//
// Operations MAY wrap these errors with additional context.
// Tests and callers MUST classify errors using errors.Is.
var (
	// ErrInvalidArgument indicates bad input: a malformed key, a
	// non-positive max size, or a non-positive value count.
	ErrInvalidArgument = errors.New("disklru: invalid argument")

	// ErrIllegalState indicates an operation on a finished editor or on a
	// closed cache.
	ErrIllegalState = errors.New("disklru: illegal state")
)

// ErrCacheClosed reports an operation on a closed cache. It matches
// [ErrIllegalState] under errors.Is.
var ErrCacheClosed = fmt.Errorf("disklru: cache is closed: %w", ErrIllegalState)

// errEditorDone reports an operation on a finished editor.
var errEditorDone = fmt.Errorf("editor already committed or aborted: %w", ErrIllegalState)

// keyPattern is the only accepted key shape. Keys are used verbatim as
// file name prefixes, so the alphabet stays filesystem-safe.
var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,120}$`)

// validateKey rejects keys that are empty, longer than 120 characters, or
// contain any character outside [a-z0-9_-].
func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf(`%w: Keys must match regex [a-z0-9_-]{1,120}: %q`, ErrInvalidArgument, key)
	}

	return nil
}
