package storelog

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/storelog/pkg/log"
	"github.com/cuemby/storelog/pkg/types"
)

// Options configures a call to Open.
type Options struct {
	// Dir is the directory holding the log's partition files and
	// node-state file. It is created if it does not exist.
	Dir string

	// RecordsPerPartition is the number of record slots in each
	// partition file.
	RecordsPerPartition int64

	// MaxRecordSize is the maximum encoded size, in bytes, of a single
	// record slot (present flag, name, content type, term, content
	// length, and payload together).
	MaxRecordSize int64
}

// CommittedFunc is invoked once per CommitAsync call that actually
// advances the commit index, with the first newly committed index, the
// number of entries committed, and the entries themselves in order.
type CommittedFunc func(startIndex, count int64, entries []*Entry)

// Log is a persistent, append-only replicated log: a dense, monotonic
// sequence of entries starting at index 0 (the sentinel, always
// implicitly present), a separately tracked commit index, and a
// per-node term and voted-for record that survives a restart.
//
// All methods are safe for concurrent use. Reads (GetEntries) may run
// concurrently with each other; writes (AppendAsync, CommitAsync,
// ForceCompactionAsync, and the term/voted-for mutators) run exclusively
// of reads and of each other.
type Log interface {
	// GetLastIndex returns the highest index currently in the log. If
	// committed is true, it returns the commit index instead.
	GetLastIndex(committed bool) int64

	// GetEntries returns the entries in [startIndex, endIndex], clamped
	// to the log's last index, stopping early (without error) at the
	// first missing slot.
	GetEntries(ctx context.Context, startIndex, endIndex int64) ([]*Entry, error)

	// AppendAsync appends entries starting at startIndex (or at
	// lastIndex+1 if startIndex is nil), returning the index of the
	// first entry written.
	AppendAsync(ctx context.Context, entries []types.Entry, startIndex *int64) (int64, error)

	// CommitAsync advances the commit index to endIndex (or to
	// lastIndex if endIndex is nil, clamped to it otherwise), returning
	// the number of entries newly committed. It is a no-op, returning
	// 0, if the target is not past the current commit index.
	CommitAsync(ctx context.Context, endIndex *int64) (int64, error)

	// ForceCompactionAsync removes partitions whose every entry is
	// already committed, starting from the lowest-numbered partition and
	// stopping at the first partition with any uncommitted entry. It
	// returns the number of entries removed.
	ForceCompactionAsync(ctx context.Context) (int64, error)

	// First returns the sentinel entry at index 0.
	First() *Entry

	// OnCommitted registers a callback invoked after every CommitAsync
	// call that advances the commit index.
	OnCommitted(fn CommittedFunc)

	// Term returns the current term without blocking.
	Term() int64

	// IncrementTermAsync advances the term by one and returns the new
	// value.
	IncrementTermAsync(ctx context.Context) (int64, error)

	// UpdateTermAsync sets the current term.
	UpdateTermAsync(ctx context.Context, value int64) error

	// IsVotedFor reports whether this node has either not yet voted in
	// the current term, or has voted for endpoint.
	IsVotedFor(endpoint types.Endpoint) bool

	// UpdateVotedForAsync persists the vote cast for endpoint, or clears
	// it when endpoint is nil.
	UpdateVotedForAsync(ctx context.Context, endpoint *types.Endpoint) error

	// Close releases the log's file handles and mappings. Close is
	// idempotent.
	Close() error
}

type fileLog struct {
	mu sync.RWMutex

	recordsPerPartition int64
	maxRecordSize       int64

	table     *partitionTable
	nodeState *nodeState

	commitIndex atomic.Int64
	lastIndex   atomic.Int64
	closed      atomic.Bool

	instanceID string
	logger     zerolog.Logger

	committedMu  sync.Mutex
	committedFns []CommittedFunc
}

// Open opens or creates a persistent log rooted at opts.Dir, replaying
// its partition headers to reconstruct the commit and last index.
func Open(opts Options) (Log, error) {
	if opts.RecordsPerPartition <= 0 {
		return nil, fmt.Errorf("%w: records per partition must be positive", ErrIOError)
	}
	if opts.MaxRecordSize <= fixedMetadataOverhead {
		return nil, fmt.Errorf("%w: max record size must exceed the fixed metadata overhead (%d)", ErrIOError, fixedMetadataOverhead)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create log directory: %v", ErrIOError, err)
	}

	table := newPartitionTable(opts.Dir, opts.RecordsPerPartition, opts.MaxRecordSize)
	commitIndex, lastIndex, err := table.scan()
	if err != nil {
		return nil, err
	}

	ns, err := openNodeState(opts.Dir)
	if err != nil {
		table.Close()
		return nil, err
	}

	instanceID := uuid.NewString()
	l := &fileLog{
		recordsPerPartition: opts.RecordsPerPartition,
		maxRecordSize:       opts.MaxRecordSize,
		table:               table,
		nodeState:           ns,
		instanceID:          instanceID,
		logger:              log.WithInstance(instanceID),
	}
	l.commitIndex.Store(commitIndex)
	l.lastIndex.Store(lastIndex)

	l.logger.Info().
		Str("dir", opts.Dir).
		Int64("last_index", lastIndex).
		Int64("commit_index", commitIndex).
		Msg("storelog opened")

	return l, nil
}

// rlock acquires the shared lock, honoring ctx cancellation. If ctx is
// cancelled before the lock is granted, the background acquisition is
// allowed to complete and is then released immediately, so the lock is
// never left held by a caller that gave up on it.
func (l *fileLog) rlock(ctx context.Context) error {
	if l.closed.Load() {
		return ErrDisposed
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	acquired := make(chan struct{})
	go func() {
		l.mu.RLock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return nil
	case <-ctx.Done():
		go func() {
			<-acquired
			l.mu.RUnlock()
		}()
		return ErrCancelled
	}
}

// wlock is the exclusive-lock counterpart of rlock.
func (l *fileLog) wlock(ctx context.Context) error {
	if l.closed.Load() {
		return ErrDisposed
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	acquired := make(chan struct{})
	go func() {
		l.mu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return nil
	case <-ctx.Done():
		go func() {
			<-acquired
			l.mu.Unlock()
		}()
		return ErrCancelled
	}
}

func (l *fileLog) GetLastIndex(committed bool) int64 {
	if committed {
		return l.commitIndex.Load()
	}
	return l.lastIndex.Load()
}

func (l *fileLog) First() *Entry {
	return sentinel
}

func (l *fileLog) GetEntries(ctx context.Context, startIndex, endIndex int64) ([]*Entry, error) {
	if endIndex < startIndex {
		return nil, nil
	}
	if err := l.rlock(ctx); err != nil {
		return nil, err
	}
	defer l.mu.RUnlock()

	if l.closed.Load() {
		return nil, ErrDisposed
	}

	end := endIndex
	if last := l.lastIndex.Load(); end > last {
		end = last
	}

	var results []*Entry
	for i := startIndex; i <= end; i++ {
		if i == 0 {
			if p, ok := l.table.TryGet(0); ok {
				entry, present, err := p.Read(SlotOf(0, l.recordsPerPartition))
				if err != nil {
					return nil, err
				}
				if present {
					results = append(results, entry)
					continue
				}
			}
			results = append(results, sentinel)
			continue
		}

		p, ok := l.table.TryGet(i)
		if !ok {
			break
		}
		entry, present, err := p.Read(SlotOf(i, l.recordsPerPartition))
		if err != nil {
			return nil, err
		}
		if !present {
			break
		}
		results = append(results, entry)
	}

	return results, nil
}

func (l *fileLog) AppendAsync(ctx context.Context, entries []types.Entry, startIndex *int64) (int64, error) {
	if len(entries) == 0 {
		return 0, ErrEmptyEntrySet
	}
	if err := l.wlock(ctx); err != nil {
		return 0, err
	}
	defer l.mu.Unlock()

	if l.closed.Load() {
		return 0, ErrDisposed
	}

	first := l.lastIndex.Load() + 1
	if startIndex != nil {
		first = *startIndex
	}

	idx := first
	for _, e := range entries {
		p, err := l.table.GetOrCreate(idx)
		if err != nil {
			return 0, err
		}
		if err := p.Write(SlotOf(idx, l.recordsPerPartition), e.Term, e.Name, e.ContentType, e.Payload); err != nil {
			return 0, err
		}
		if idx > l.lastIndex.Load() {
			l.lastIndex.Store(idx)
		}
		idx++
	}

	l.logger.Debug().Int64("start_index", first).Int("count", len(entries)).Msg("appended entries")
	return first, nil
}

func (l *fileLog) CommitAsync(ctx context.Context, endIndex *int64) (int64, error) {
	if err := l.wlock(ctx); err != nil {
		return 0, err
	}
	defer l.mu.Unlock()

	if l.closed.Load() {
		return 0, ErrDisposed
	}

	last := l.lastIndex.Load()
	target := last
	if endIndex != nil {
		target = *endIndex
	}
	if target > last {
		target = last
	}

	current := l.commitIndex.Load()
	if target <= current {
		return 0, nil
	}

	countByPartition := make(map[int64]int64)
	for idx := current + 1; idx <= target; idx++ {
		countByPartition[PartitionOf(idx, l.recordsPerPartition)]++
	}

	for num, count := range countByPartition {
		p, ok := l.table.partitions[num]
		if !ok {
			return 0, fmt.Errorf("%w: partition %d missing during commit", ErrIOError, num)
		}
		p.SetCommittedEntries(p.CommittedEntries() + count)
		if err := p.FlushHeaders(); err != nil {
			return 0, err
		}
	}

	entries, err := l.getEntriesLocked(ctx, current+1, target)
	if err != nil {
		return 0, err
	}

	l.commitIndex.Store(target)

	l.logger.Debug().Int64("commit_index", target).Int64("count", target-current).Msg("committed entries")

	startIndex := current + 1
	count := target - current
	l.committedMu.Lock()
	fns := make([]CommittedFunc, len(l.committedFns))
	copy(fns, l.committedFns)
	l.committedMu.Unlock()
	for _, fn := range fns {
		fn(startIndex, count, entries)
	}

	return count, nil
}

// getEntriesLocked reads [startIndex, endIndex] assuming the caller
// already holds l.mu.
func (l *fileLog) getEntriesLocked(ctx context.Context, startIndex, endIndex int64) ([]*Entry, error) {
	if endIndex < startIndex {
		return nil, nil
	}
	var results []*Entry
	for i := startIndex; i <= endIndex; i++ {
		p, ok := l.table.TryGet(i)
		if !ok {
			break
		}
		entry, present, err := p.Read(SlotOf(i, l.recordsPerPartition))
		if err != nil {
			return nil, err
		}
		if !present {
			break
		}
		results = append(results, entry)
	}
	return results, nil
}

func (l *fileLog) ForceCompactionAsync(ctx context.Context) (int64, error) {
	if err := l.wlock(ctx); err != nil {
		return 0, err
	}
	defer l.mu.Unlock()

	if l.closed.Load() {
		return 0, ErrDisposed
	}

	var removed int64
	for _, num := range l.table.sortedNumbers() {
		p := l.table.partitions[num]
		occ := p.OccupiedCount()
		if occ == 0 {
			continue
		}
		if p.CommittedEntries() < occ {
			break
		}

		path := p.path
		if err := p.Close(); err != nil {
			return removed, err
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("%w: remove partition %d: %v", ErrIOError, num, err)
		}
		delete(l.table.partitions, num)
		removed += occ
	}

	if removed > 0 {
		l.logger.Info().Int64("removed", removed).Msg("compacted log")
	}
	return removed, nil
}

func (l *fileLog) OnCommitted(fn CommittedFunc) {
	l.committedMu.Lock()
	defer l.committedMu.Unlock()
	l.committedFns = append(l.committedFns, fn)
}

func (l *fileLog) Term() int64 {
	return l.nodeState.Term()
}

func (l *fileLog) IncrementTermAsync(ctx context.Context) (int64, error) {
	if err := l.wlock(ctx); err != nil {
		return 0, err
	}
	defer l.mu.Unlock()
	if l.closed.Load() {
		return 0, ErrDisposed
	}
	return l.nodeState.IncrementTerm()
}

func (l *fileLog) UpdateTermAsync(ctx context.Context, value int64) error {
	if err := l.wlock(ctx); err != nil {
		return err
	}
	defer l.mu.Unlock()
	if l.closed.Load() {
		return ErrDisposed
	}
	return l.nodeState.UpdateTerm(value)
}

func (l *fileLog) IsVotedFor(endpoint types.Endpoint) bool {
	return l.nodeState.IsVotedFor(endpoint)
}

func (l *fileLog) UpdateVotedForAsync(ctx context.Context, endpoint *types.Endpoint) error {
	if err := l.wlock(ctx); err != nil {
		return err
	}
	defer l.mu.Unlock()
	if l.closed.Load() {
		return ErrDisposed
	}
	return l.nodeState.UpdateVotedFor(endpoint)
}

func (l *fileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return nil
	}
	l.closed.Store(true)

	var firstErr error
	if err := l.table.Close(); err != nil {
		firstErr = err
	}
	if err := l.nodeState.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	l.logger.Info().Msg("storelog closed")
	return firstErr
}
