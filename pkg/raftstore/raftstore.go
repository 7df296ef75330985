// Package raftstore adapts pkg/storelog's persistent log into
// hashicorp/raft's LogStore and StableStore contracts, the same pairing
// raft-boltdb provides over bbolt.
package raftstore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/cuemby/storelog/pkg/log"
	"github.com/cuemby/storelog/pkg/storelog"
	"github.com/cuemby/storelog/pkg/types"
)

// entryContentType is fixed for every raft log entry; raft.Log.Data is an
// opaque byte string regardless of command encoding.
const entryContentType = "application/octet-stream"

// Well-known stable-store keys hashicorp/raft uses internally.
const (
	keyCurrentTerm       = "CurrentTerm"
	keyLastVoteCandidate = "LastVoteCand"
)

// Store implements raft.LogStore and raft.StableStore over a single
// pkg/storelog.Log. It is the integration this module offers beyond the
// bare persistence layer: a drop-in replacement for raft-boltdb that
// keeps the same on-disk record format storelog defines.
type Store struct {
	log    storelog.Log
	logger zerolog.Logger

	mu       sync.Mutex
	fallback map[string][]byte
}

// New wraps an already-open storelog.Log as a raft.LogStore and
// raft.StableStore pair. The caller remains responsible for closing the
// underlying log.
func New(l storelog.Log) *Store {
	return &Store{
		log:      l,
		logger:   log.WithComponent("raftstore"),
		fallback: make(map[string][]byte),
	}
}

var (
	_ raft.LogStore    = (*Store)(nil)
	_ raft.StableStore = (*Store)(nil)
)

// FirstIndex returns the lowest index still present in the log, or 0 if
// the log is empty. Because ForceCompactionAsync only ever removes a
// contiguous prefix of partitions, a binary search over [1, LastIndex]
// for the first present slot is sufficient.
func (s *Store) FirstIndex() (uint64, error) {
	last := s.log.GetLastIndex(false)
	if last == 0 {
		return 0, nil
	}

	ctx := context.Background()
	lo, hi := int64(1), last
	for lo < hi {
		mid := lo + (hi-lo)/2
		entries, err := s.log.GetEntries(ctx, mid, mid)
		if err != nil {
			return 0, err
		}
		if len(entries) == 1 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	entries, err := s.log.GetEntries(ctx, lo, lo)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return uint64(lo), nil
}

// LastIndex returns the highest index in the log, or 0 if empty.
func (s *Store) LastIndex() (uint64, error) {
	return uint64(s.log.GetLastIndex(false)), nil
}

// GetLog fills out with the entry at index, or returns raft.ErrLogNotFound
// if no such entry exists.
func (s *Store) GetLog(index uint64, out *raft.Log) error {
	entries, err := s.log.GetEntries(context.Background(), int64(index), int64(index))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return raft.ErrLogNotFound
	}

	e := entries[0]
	payload, err := e.Payload()
	if err != nil {
		return err
	}
	typ, err := strconv.ParseUint(e.Name, 10, 8)
	if err != nil {
		return fmt.Errorf("raftstore: decode log type for index %d: %w", index, err)
	}

	out.Index = index
	out.Term = uint64(e.Term)
	out.Type = raft.LogType(typ)
	out.Data = payload
	return nil
}

// StoreLog stores a single raft.Log entry.
func (s *Store) StoreLog(l *raft.Log) error {
	return s.StoreLogs([]*raft.Log{l})
}

// StoreLogs stores a contiguous batch of raft.Log entries, starting at
// the first entry's index. Writing at an already-occupied index
// overwrites it, which is how raft resolves a log conflict: it issues
// DeleteRange for the diverging suffix and then StoreLogs the leader's
// entries over the same range.
func (s *Store) StoreLogs(logs []*raft.Log) error {
	if len(logs) == 0 {
		return nil
	}

	entries := make([]types.Entry, len(logs))
	for i, l := range logs {
		entries[i] = types.Entry{
			Term:        int64(l.Term),
			Name:        strconv.FormatUint(uint64(l.Type), 10),
			ContentType: entryContentType,
			Payload:     l.Data,
		}
	}

	start := int64(logs[0].Index)
	if _, err := s.log.AppendAsync(context.Background(), entries, &start); err != nil {
		return err
	}
	s.logger.Debug().Int64("start_index", start).Int("count", len(logs)).Msg("stored raft log entries")
	return nil
}

// DeleteRange removes the log entries in [min, max]. storelog's record
// format has no generalized delete: entries are only ever appended or
// overwritten in place. A suffix truncation ahead of a conflicting
// overwrite (min > 1) is therefore a safe no-op, since the following
// StoreLogs call overwrites the same slots directly. A prefix trim from
// the start of the log (min == 1, typically following a snapshot) is
// approximated with ForceCompactionAsync, which removes as much of the
// prefix as is already committed — it may compact less than [min, max]
// asks for, never more. A range whose max reaches the log's last index
// is a no-op: nothing is removed.
func (s *Store) DeleteRange(min, max uint64) error {
	if min > 1 {
		return nil
	}
	if max >= uint64(s.log.GetLastIndex(false)) {
		return nil
	}
	removed, err := s.log.ForceCompactionAsync(context.Background())
	if err != nil {
		return err
	}
	s.logger.Debug().Uint64("min", min).Uint64("max", max).Int64("removed", removed).Msg("delete range compacted")
	return nil
}

// Set stores an arbitrary key/value pair. The well-known
// "LastVoteCand" key raft uses to record the candidate voted for in the
// current term is translated into the log's durable voted-for field;
// every other key falls back to an in-memory map, which does not
// survive a restart.
func (s *Store) Set(key, val []byte) error {
	if string(key) == keyLastVoteCandidate {
		ep, err := parseEndpoint(val)
		if err != nil {
			return err
		}
		if err := s.log.UpdateVotedForAsync(context.Background(), ep); err != nil {
			return err
		}
	}

	// Every key, including the last-vote-candidate key, is also cached
	// here so Get can hand the raw bytes back within the same process.
	// storelog.Log only exposes the persisted voted-for through
	// IsVotedFor's boolean comparison, not as a retrievable value, so a
	// restart loses this cache even though the underlying vote is still
	// durable and still enforced by IsVotedFor.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback[string(key)] = append([]byte(nil), val...)
	return nil
}

// Get retrieves a value set with Set.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback[string(key)], nil
}

// SetUint64 stores a uint64 value. The well-known "CurrentTerm" key
// delegates to the log's durable term field; every other key falls back
// to the in-memory map.
func (s *Store) SetUint64(key []byte, val uint64) error {
	if string(key) == keyCurrentTerm {
		return s.log.UpdateTermAsync(context.Background(), int64(val))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(val >> (8 * i))
	}
	s.fallback[string(key)] = buf
	return nil
}

// GetUint64 retrieves a value set with SetUint64.
func (s *Store) GetUint64(key []byte) (uint64, error) {
	if string(key) == keyCurrentTerm {
		return uint64(s.log.Term()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.fallback[string(key)]
	if !ok || len(buf) != 8 {
		return 0, nil
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v, nil
}

func parseEndpoint(val []byte) (*types.Endpoint, error) {
	if len(val) == 0 {
		return nil, nil
	}
	host, portStr, err := net.SplitHostPort(string(val))
	if err != nil {
		return nil, fmt.Errorf("raftstore: decode voted-for candidate %q: %w", val, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("raftstore: decode voted-for port %q: %w", portStr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("raftstore: decode voted-for address %q", host)
	}
	return &types.Endpoint{IP: ip, Port: uint32(port)}, nil
}

// EndpointToCandidate encodes an endpoint the way raft expects a
// candidate ID to look, for callers constructing a Set call themselves.
func EndpointToCandidate(ep types.Endpoint) []byte {
	return []byte(net.JoinHostPort(ep.IP.String(), strconv.FormatUint(uint64(ep.Port), 10)))
}
