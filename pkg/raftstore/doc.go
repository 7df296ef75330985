/*
Package raftstore is the bridge between pkg/storelog and
github.com/hashicorp/raft: a Store that satisfies both raft.LogStore and
raft.StableStore over a single open storelog.Log, in place of the
bbolt-backed raft-boltdb implementation.

A raft.Log's Term, Type, and Data map directly onto a storelog entry's
Term, Name (the log type, stringified), and payload. CurrentTerm and the
candidate voted for in the stable store map onto the log's own term and
voted-for fields; every other stable-store key is kept in an in-memory
fallback that does not survive a restart, since storelog's fixed record
format has no slot reserved for arbitrary raft bookkeeping keys.

See New for how to wire a Store into raft.NewRaft.
*/
package raftstore
