package storelog

import (
	"fmt"
	"os"
	"sort"
	"strconv"
)

// PartitionOf returns the partition number that holds global index.
func PartitionOf(index, recordsPerPartition int64) int64 {
	return index / recordsPerPartition
}

// SlotOf returns the slot within its partition that global index maps to.
func SlotOf(index, recordsPerPartition int64) int64 {
	return index % recordsPerPartition
}

// partitionTable owns every open Partition and routes a global index to
// the partition (and slot) that holds it, creating partition files on
// demand as the log grows.
type partitionTable struct {
	dir                 string
	recordsPerPartition int64
	maxRecordSize       int64
	partitions          map[int64]*Partition
}

func newPartitionTable(dir string, recordsPerPartition, maxRecordSize int64) *partitionTable {
	return &partitionTable{
		dir:                 dir,
		recordsPerPartition: recordsPerPartition,
		maxRecordSize:       maxRecordSize,
		partitions:          make(map[int64]*Partition),
	}
}

// GetOrCreate returns the partition holding index, opening (and
// zero-filling) its file if this is the first write to reach it.
func (t *partitionTable) GetOrCreate(index int64) (*Partition, error) {
	num := PartitionOf(index, t.recordsPerPartition)
	if p, ok := t.partitions[num]; ok {
		return p, nil
	}
	p, err := OpenPartition(t.dir, num, t.recordsPerPartition, t.maxRecordSize)
	if err != nil {
		return nil, err
	}
	t.partitions[num] = p
	return p, nil
}

// TryGet returns the already-open partition holding index, if any.
func (t *partitionTable) TryGet(index int64) (*Partition, bool) {
	num := PartitionOf(index, t.recordsPerPartition)
	p, ok := t.partitions[num]
	return p, ok
}

// scan opens every partition file already present under the log
// directory and reconstructs commitIndex and lastIndex from their
// headers and occupied-slot counts. Entries whose names do not parse as
// a non-negative partition number (the node-state file, stray files) are
// skipped rather than rejected, so an operator can drop other files in
// the directory without corrupting recovery.
func (t *partitionTable) scan() (commitIndex, lastIndex int64, err error) {
	dirEntries, err := os.ReadDir(t.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: read log directory: %v", ErrIOError, err)
	}

	var nums []int64
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		num, perr := strconv.ParseUint(de.Name(), 10, 63)
		if perr != nil {
			continue
		}
		nums = append(nums, int64(num))
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	for _, num := range nums {
		p, err := OpenPartition(t.dir, num, t.recordsPerPartition, t.maxRecordSize)
		if err != nil {
			return 0, 0, err
		}
		t.partitions[num] = p
		commitIndex += p.CommittedEntries()
		lastIndex += p.OccupiedCount()
	}

	return commitIndex, lastIndex, nil
}

// sortedNumbers returns the numbers of every currently open partition,
// ascending.
func (t *partitionTable) sortedNumbers() []int64 {
	nums := make([]int64, 0, len(t.partitions))
	for num := range t.partitions {
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// Close closes every open partition, returning the first error
// encountered (if any) after attempting to close them all.
func (t *partitionTable) Close() error {
	var firstErr error
	for _, p := range t.partitions {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
