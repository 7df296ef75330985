/*
Package storelog implements a persistent, append-only replicated log
suitable for backing a Raft node's log store and stable store.

# On-disk layout

The log is a directory of fixed-size partition files, each holding
RecordsPerPartition record slots of MaxRecordSize bytes, named on disk
by their partition number (0, 1, 2, ...); partition p holds global
indices p*RecordsPerPartition through (p+1)*RecordsPerPartition-1. A sixteen-byte header at the start of each
partition file tracks its index offset and how many of its entries are
known committed. Index 0 is a process-wide sentinel entry that is never
actually written to disk unless a caller explicitly overwrites it; a
read for index 0 that finds nothing on disk returns that sentinel.

A separate .state file, also memory-mapped, holds the current term and
the endpoint this node last voted for, so both survive a restart.

Every partition and the node-state file are opened with a single
read-write mmap spanning the whole file; reads and writes are plain
slice operations against that mapping, synchronized by the log's own
lock rather than by any per-file lock. Durability comes from explicit
msync calls, ordered so a crash mid-write never leaves a slot's present
flag set over partially-written metadata.

# Concurrency

Open returns a Log backed by a single sync.RWMutex: GetEntries takes
the shared side, everything that mutates state (AppendAsync,
CommitAsync, ForceCompactionAsync, and the term/voted-for mutators)
takes the exclusive side. Every blocking entry point takes a
context.Context and returns ErrCancelled if cancelled before its lock
is granted.

# Usage

	l, err := storelog.Open(storelog.Options{
		Dir:                 dir,
		RecordsPerPartition: 4096,
		MaxRecordSize:       4096,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	first, err := l.AppendAsync(ctx, []types.Entry{{Term: 1, Name: "a"}}, nil)
	if err != nil {
		return err
	}
	if _, err := l.CommitAsync(ctx, nil); err != nil {
		return err
	}
	_ = first
*/
package storelog
