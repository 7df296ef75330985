package storelog

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/cuemby/storelog/pkg/types"
)

// nodeStateFileName is deliberately not a valid partition number, so the
// partition table's directory scan skips it.
const nodeStateFileName = ".state"

// nodeState file layout:
//
//	offset 0:  int64  term
//	offset 8:  uint32 votedFor port
//	offset 12: uint32 votedFor address length (0 means "not voted")
//	offset 16: address bytes, as many as the stored net.IP holds (an IPv4
//	           address from net.ParseIP is stored in its 16-byte form)
const (
	nodeStateTermOffset    = 0
	nodeStatePortOffset    = 8
	nodeStateAddrLenOffset = 12
	nodeStateAddrOffset    = 16
	nodeStateSize          = 1024
)

// nodeState is the memory-mapped file holding the term and voted-for
// fields a Raft node must never forget across a restart. Term is cached
// in an atomic so it can be read without blocking on the log's lock;
// mutations go through the log's write lock.
type nodeState struct {
	path string

	file   *os.File
	data   []byte
	closed bool

	term     atomic.Int64
	votedFor atomic.Pointer[types.Endpoint]
}

func openNodeState(dir string) (*nodeState, error) {
	path := filepath.Join(dir, nodeStateFileName)

	_, statErr := os.Stat(path)
	existed := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open node state: %v", ErrIOError, err)
	}

	if !existed {
		if err := f.Truncate(nodeStateSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: truncate node state: %v", ErrIOError, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, nodeStateSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mmap node state: %v", ErrIOError, err)
	}

	ns := &nodeState{path: path, file: f, data: data}
	ns.term.Store(int64(binary.LittleEndian.Uint64(data[nodeStateTermOffset:])))

	addrLen := binary.LittleEndian.Uint32(data[nodeStateAddrLenOffset:])
	if addrLen > 0 {
		port := binary.LittleEndian.Uint32(data[nodeStatePortOffset:])
		addr := make(net.IP, addrLen)
		copy(addr, data[nodeStateAddrOffset:int(nodeStateAddrOffset+addrLen)])
		ns.votedFor.Store(&types.Endpoint{IP: addr, Port: port})
	}

	return ns, nil
}

// Term returns the current term without blocking.
func (ns *nodeState) Term() int64 {
	return ns.term.Load()
}

// UpdateTerm sets the current term. The caller must hold the log's
// write lock.
func (ns *nodeState) UpdateTerm(value int64) error {
	if ns.closed {
		return ErrDisposed
	}
	binary.LittleEndian.PutUint64(ns.data[nodeStateTermOffset:], uint64(value))
	if err := ns.sync(); err != nil {
		return err
	}
	ns.term.Store(value)
	return nil
}

// IncrementTerm advances the current term by one and returns the new
// value. The caller must hold the log's write lock.
func (ns *nodeState) IncrementTerm() (int64, error) {
	if ns.closed {
		return 0, ErrDisposed
	}
	next := ns.term.Load() + 1
	binary.LittleEndian.PutUint64(ns.data[nodeStateTermOffset:], uint64(next))
	if err := ns.sync(); err != nil {
		return 0, err
	}
	ns.term.Store(next)
	return next, nil
}

// IsVotedFor reports whether the persisted voted-for is either empty
// (this node has not yet voted in the current term) or equal to
// endpoint.
func (ns *nodeState) IsVotedFor(endpoint types.Endpoint) bool {
	vf := ns.votedFor.Load()
	if vf == nil {
		return true
	}
	return vf.Equal(endpoint)
}

// UpdateVotedFor persists the vote cast for endpoint, or clears it when
// endpoint is nil. The caller must hold the log's write lock.
func (ns *nodeState) UpdateVotedFor(endpoint *types.Endpoint) error {
	if ns.closed {
		return ErrDisposed
	}

	if endpoint == nil {
		binary.LittleEndian.PutUint32(ns.data[nodeStatePortOffset:], 0)
		binary.LittleEndian.PutUint32(ns.data[nodeStateAddrLenOffset:], 0)
	} else {
		addr := endpoint.IP
		if len(addr) > nodeStateSize-nodeStateAddrOffset {
			return fmt.Errorf("%w: voted-for address too long", ErrIOError)
		}
		binary.LittleEndian.PutUint32(ns.data[nodeStatePortOffset:], endpoint.Port)
		binary.LittleEndian.PutUint32(ns.data[nodeStateAddrLenOffset:], uint32(len(addr)))
		copy(ns.data[nodeStateAddrOffset:], addr)
	}

	if err := ns.sync(); err != nil {
		return err
	}

	if endpoint == nil {
		ns.votedFor.Store(nil)
	} else {
		cp := *endpoint
		ns.votedFor.Store(&cp)
	}
	return nil
}

func (ns *nodeState) sync() error {
	if err := unix.Msync(ns.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("%w: msync node state: %v", ErrIOError, err)
	}
	return nil
}

// Close unmaps and closes the node-state file. Close is idempotent.
func (ns *nodeState) Close() error {
	if ns.closed {
		return nil
	}
	ns.closed = true

	var err error
	if ns.data != nil {
		_ = unix.Msync(ns.data, unix.MS_SYNC)
		if e := unix.Munmap(ns.data); e != nil {
			err = e
		}
		ns.data = nil
	}
	if ns.file != nil {
		if e := ns.file.Close(); e != nil && err == nil {
			err = e
		}
	}
	if err != nil {
		return fmt.Errorf("%w: close node state: %v", ErrIOError, err)
	}
	return nil
}
