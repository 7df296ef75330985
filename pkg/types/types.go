// Package types holds the data model shared by pkg/storelog and
// pkg/raftstore: log entries and the node identity a vote is cast for.
package types

import "net"

// Entry is a single immutable record in the replicated log.
type Entry struct {
	Term        int64
	Name        string
	ContentType string
	Payload     []byte
}

// Endpoint identifies a cluster member by address and port, the unit a
// vote is cast for and compared against.
type Endpoint struct {
	IP   net.IP
	Port uint32
}

// Equal reports whether two endpoints refer to the same address and port.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.Port == other.Port && e.IP.Equal(other.IP)
}

// HardState is the durable term/voted-for pair a Raft node must never
// forget across a restart.
type HardState struct {
	Term     int64
	VotedFor *Endpoint // nil when this node has not voted in the current term
}
