package raftstore

import (
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/storelog/pkg/storelog"
)

func openTestStore(t *testing.T) (*Store, storelog.Log) {
	t.Helper()
	l, err := storelog.Open(storelog.Options{
		Dir:                 t.TempDir(),
		RecordsPerPartition: 8,
		MaxRecordSize:       256,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return New(l), l
}

func TestFirstAndLastIndexEmpty(t *testing.T) {
	s, _ := openTestStore(t)

	first, err := s.FirstIndex()
	require.NoError(t, err)
	require.EqualValues(t, 0, first)

	last, err := s.LastIndex()
	require.NoError(t, err)
	require.EqualValues(t, 0, last)
}

func TestStoreLogAndGetLog(t *testing.T) {
	s, _ := openTestStore(t)

	entry := &raft.Log{
		Index: 1,
		Term:  3,
		Type:  raft.LogCommand,
		Data:  []byte("apply me"),
	}
	require.NoError(t, s.StoreLog(entry))

	last, err := s.LastIndex()
	require.NoError(t, err)
	require.EqualValues(t, 1, last)

	var out raft.Log
	require.NoError(t, s.GetLog(1, &out))
	require.Equal(t, uint64(3), out.Term)
	require.Equal(t, raft.LogCommand, out.Type)
	require.Equal(t, []byte("apply me"), out.Data)
}

func TestGetLogNotFound(t *testing.T) {
	s, _ := openTestStore(t)

	var out raft.Log
	err := s.GetLog(5, &out)
	require.ErrorIs(t, err, raft.ErrLogNotFound)
}

func TestStoreLogsBatch(t *testing.T) {
	s, _ := openTestStore(t)

	logs := []*raft.Log{
		{Index: 1, Term: 1, Type: raft.LogCommand, Data: []byte("a")},
		{Index: 2, Term: 1, Type: raft.LogCommand, Data: []byte("b")},
		{Index: 3, Term: 2, Type: raft.LogNoop},
	}
	require.NoError(t, s.StoreLogs(logs))

	last, err := s.LastIndex()
	require.NoError(t, err)
	require.EqualValues(t, 3, last)

	var out raft.Log
	require.NoError(t, s.GetLog(3, &out))
	require.Equal(t, raft.LogNoop, out.Type)
}

func TestCurrentTermDelegatesToLog(t *testing.T) {
	s, l := openTestStore(t)

	require.NoError(t, s.SetUint64([]byte(keyCurrentTerm), 7))
	require.EqualValues(t, 7, l.Term())

	got, err := s.GetUint64([]byte(keyCurrentTerm))
	require.NoError(t, err)
	require.EqualValues(t, 7, got)
}

func TestGenericKeyFallback(t *testing.T) {
	s, _ := openTestStore(t)

	require.NoError(t, s.Set([]byte("anything"), []byte("value")))
	got, err := s.Get([]byte("anything"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)

	require.NoError(t, s.SetUint64([]byte("LastVoteTerm"), 42))
	v, err := s.GetUint64([]byte("LastVoteTerm"))
	require.NoError(t, err)
	require.EqualValues(t, 42, v)
}

func TestLastVoteCandidateDelegatesToVotedFor(t *testing.T) {
	s, l := openTestStore(t)

	candidate := []byte("10.0.0.5:9001")
	require.NoError(t, s.Set([]byte(keyLastVoteCandidate), candidate))

	ep, err := parseEndpoint(candidate)
	require.NoError(t, err)
	require.True(t, l.IsVotedFor(*ep))
}
