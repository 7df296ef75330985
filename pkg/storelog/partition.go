package storelog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/cuemby/storelog/internal/varint"
)

// Partition header layout, at the start of every partition file:
//
//	offset 0:  int64 indexOffset       -- global index of this partition's slot 0
//	offset 8:  int64 committedEntries  -- number of this partition's entries known committed
//	offset 16: slots...
const (
	partitionIndexOffsetOffset      = 0
	partitionCommittedEntriesOffset = 8
	partitionHeaderSize             = 16
)

// Partition is one fixed-size, memory-mapped slice of the log: a
// contiguous run of RecordsPerPartition record slots, each MaxRecordSize
// bytes wide, named on disk by its partition number.
//
// A slot's first byte is a present flag (0 or 1). When present, the
// remaining bytes hold a length-prefixed name, a length-prefixed content
// type, an 8-byte term, an 8-byte content length, and the payload itself.
type Partition struct {
	Number int64

	path                string
	recordsPerPartition int64
	maxRecordSize       int64

	file   *os.File
	data   []byte
	closed bool
}

// OpenPartition opens (creating if necessary) the partition file for
// partition number num under dir.
func OpenPartition(dir string, num, recordsPerPartition, maxRecordSize int64) (*Partition, error) {
	path := filepath.Join(dir, strconv.FormatInt(num, 10))
	size := partitionHeaderSize + recordsPerPartition*maxRecordSize

	info, statErr := os.Stat(path)
	existed := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open partition %d: %v", ErrIOError, num, err)
	}

	if !existed {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: truncate partition %d: %v", ErrIOError, num, err)
		}
	} else if info.Size() != size {
		f.Close()
		return nil, fmt.Errorf("%w: partition %d is %d bytes, want %d", ErrIOError, num, info.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mmap partition %d: %v", ErrIOError, num, err)
	}

	p := &Partition{
		Number:              num,
		path:                path,
		recordsPerPartition: recordsPerPartition,
		maxRecordSize:       maxRecordSize,
		file:                f,
		data:                data,
	}

	if !existed {
		binary.LittleEndian.PutUint64(p.data[partitionIndexOffsetOffset:], uint64(num*recordsPerPartition))
		if err := p.FlushHeaders(); err != nil {
			p.Close()
			return nil, err
		}
	}

	return p, nil
}

// IndexOffset is the global log index of this partition's slot 0.
func (p *Partition) IndexOffset() int64 {
	return int64(binary.LittleEndian.Uint64(p.data[partitionIndexOffsetOffset:]))
}

// CommittedEntries is the number of this partition's entries known to be
// committed, as held in the mapped header, including any value set by
// SetCommittedEntries that has not yet been flushed.
func (p *Partition) CommittedEntries() int64 {
	return int64(binary.LittleEndian.Uint64(p.data[partitionCommittedEntriesOffset:]))
}

// SetCommittedEntries updates the in-memory committed-entries header. The
// change is not durable until the next FlushHeaders.
func (p *Partition) SetCommittedEntries(n int64) {
	binary.LittleEndian.PutUint64(p.data[partitionCommittedEntriesOffset:], uint64(n))
}

// FlushHeaders forces the partition's dirty pages, including the header,
// out to disk.
func (p *Partition) FlushHeaders() error {
	return p.sync()
}

func (p *Partition) sync() error {
	if err := unix.Msync(p.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("%w: msync partition %d: %v", ErrIOError, p.Number, err)
	}
	return nil
}

func (p *Partition) slotBuf(slotIndex int64) []byte {
	off := partitionHeaderSize + slotIndex*p.maxRecordSize
	return p.data[off : off+p.maxRecordSize]
}

// OccupiedCount returns the number of slots occupied as a contiguous
// prefix, starting from slot 0 — except in partition 0, where slot 0 is
// the implicit sentinel for global index 0 and is never itself counted
// as an occupied record slot. If partition 0 holds no real entries at
// all, OccupiedCount still returns 1, accounting for that sentinel.
func (p *Partition) OccupiedCount() int64 {
	start := int64(0)
	if p.Number == 0 {
		start = 1
	}

	var n int64
	for i := start; i < p.recordsPerPartition; i++ {
		if p.slotBuf(i)[0] == 0 {
			break
		}
		n++
	}

	if p.Number == 0 && n == 0 {
		return 1
	}
	return n
}

// Read returns the entry stored at slotIndex, or ok == false if the slot
// is empty.
func (p *Partition) Read(slotIndex int64) (entry *Entry, ok bool, err error) {
	if p.closed {
		return nil, false, ErrDisposed
	}

	buf := p.slotBuf(slotIndex)
	if buf[0] == 0 {
		return nil, false, nil
	}

	pos := 1
	name, n, derr := varint.GetString(buf[pos:])
	if derr != nil {
		return nil, false, fmt.Errorf("%w: decode name in partition %d slot %d: %v", ErrIOError, p.Number, slotIndex, derr)
	}
	pos += n

	contentType, n, derr := varint.GetString(buf[pos:])
	if derr != nil {
		return nil, false, fmt.Errorf("%w: decode content type in partition %d slot %d: %v", ErrIOError, p.Number, slotIndex, derr)
	}
	pos += n

	if pos+16 > len(buf) {
		return nil, false, fmt.Errorf("%w: truncated header in partition %d slot %d", ErrIOError, p.Number, slotIndex)
	}
	term := int64(binary.LittleEndian.Uint64(buf[pos : pos+8]))
	pos += 8
	contentLength := int64(binary.LittleEndian.Uint64(buf[pos : pos+8]))
	pos += 8

	if pos+int(contentLength) > len(buf) {
		return nil, false, fmt.Errorf("%w: truncated payload in partition %d slot %d", ErrIOError, p.Number, slotIndex)
	}

	return &Entry{
		Term:         term,
		Name:         name,
		ContentType:  contentType,
		Length:       contentLength,
		partition:    p,
		slotIndex:    slotIndex,
		contentStart: int64(pos),
	}, true, nil
}

// Write encodes an entry into slotIndex and flushes it to disk in a
// crash-safe order: the slot's present flag is first cleared and
// flushed (so a crash never leaves stale metadata behind a present
// flag), then the new metadata and payload are written and flushed,
// and only then is the present flag set and flushed again. A reader
// can therefore never observe a present slot with partially-written
// contents, whether this call is a fresh write or an overwrite.
func (p *Partition) Write(slotIndex int64, term int64, name, contentType string, payload []byte) error {
	if p.closed {
		return ErrDisposed
	}

	metaLen := 1 + varint.Len(name) + varint.Len(contentType) + 16
	total := int64(metaLen) + int64(len(payload))
	if total > p.maxRecordSize {
		return fmt.Errorf("%w: entry is %d bytes, maximum record size is %d", ErrEntryTooLarge, total, p.maxRecordSize)
	}

	buf := p.slotBuf(slotIndex)

	buf[0] = 0
	if err := p.sync(); err != nil {
		return err
	}

	pos := 1
	pos += varint.PutString(buf[pos:], name)
	pos += varint.PutString(buf[pos:], contentType)
	binary.LittleEndian.PutUint64(buf[pos:], uint64(term))
	pos += 8
	binary.LittleEndian.PutUint64(buf[pos:], uint64(len(payload)))
	pos += 8
	copy(buf[pos:], payload)

	if err := p.sync(); err != nil {
		return err
	}

	buf[0] = 1
	return p.sync()
}

// Close unmaps and closes the partition file. Close is idempotent.
func (p *Partition) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if p.data != nil {
		_ = unix.Msync(p.data, unix.MS_SYNC)
		if e := unix.Munmap(p.data); e != nil {
			err = e
		}
		p.data = nil
	}
	if p.file != nil {
		if e := p.file.Close(); e != nil && err == nil {
			err = e
		}
	}
	if err != nil {
		return fmt.Errorf("%w: close partition %d: %v", ErrIOError, p.Number, err)
	}
	return nil
}
