package storelog

import "errors"

// Sentinel errors returned by this package. Callers should compare with
// errors.Is, since the concrete error returned always wraps one of these
// with additional context via fmt.Errorf's %w.
var (
	// ErrIOError wraps any failure from the underlying file or mapping
	// (open, truncate, mmap, munmap, msync, or remove), a slot that fails
	// to decode, and invalid Options passed to Open.
	ErrIOError = errors.New("storelog: i/o error")

	// ErrEntryTooLarge is returned when an entry's encoded size (name,
	// content type, and payload together) exceeds the partition's
	// maximum record size.
	ErrEntryTooLarge = errors.New("storelog: entry exceeds maximum record size")

	// ErrEmptyEntrySet is returned by AppendAsync when called with zero
	// entries.
	ErrEmptyEntrySet = errors.New("storelog: empty entry set")

	// ErrCancelled is returned when a context is cancelled while an
	// operation is waiting to acquire the log's lock.
	ErrCancelled = errors.New("storelog: operation cancelled")

	// ErrDisposed is returned by any operation attempted after the log,
	// a partition, or the node-state file has been closed.
	ErrDisposed = errors.New("storelog: closed")
)
