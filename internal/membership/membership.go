// Package membership holds the authoritative local view of cluster
// participants: the node's own identity and its table of known peers.
package membership

import (
	"errors"
	"fmt"
	"strings"
)

// Capacity is the maximum number of peers a single node will track.
const Capacity = 100

// ErrCapacityExceeded is returned by Table.Append when the peer table is
// already holding Capacity entries.
var ErrCapacityExceeded = errors.New("membership: peer table at capacity")

// NodeId uniquely names a node by the pair of ports it listens on: the
// stream endpoint used for the join handshake, and the datagram endpoint
// used for all steady-state gossip and probe traffic.
type NodeId struct {
	StreamPort   uint16
	DatagramPort uint16
}

// String renders a NodeId as "<stream>-<datagram>" for status logs.
func (n NodeId) String() string {
	return fmt.Sprintf("%d-%d", n.StreamPort, n.DatagramPort)
}

// Table is the ordered set of known peers, excluding self. It carries no
// lock of its own: per the concurrency model, every mutation is made
// under the single mutex owned by the enclosing node State.
type Table struct {
	self  NodeId
	peers []NodeId
}

// NewTable creates an empty Table for the given self identity.
func NewTable(self NodeId) *Table {
	return &Table{self: self}
}

// Self returns this node's own identity.
func (t *Table) Self() NodeId {
	return t.self
}

// Populate replaces the peer table wholesale with the given seed list,
// silently excluding self if present. Used on startup and on rejoin.
func (t *Table) Populate(seeds []NodeId) {
	t.peers = t.peers[:0]
	for _, s := range seeds {
		if s == t.self {
			continue
		}
		t.peers = append(t.peers, s)
	}
}

// Append adds peer to the table if absent. It is a no-op if peer is
// already present or equal to self, and returns ErrCapacityExceeded if
// the table is already full.
func (t *Table) Append(peer NodeId) error {
	if peer == t.self || t.Contains(peer) {
		return nil
	}
	if len(t.peers) >= Capacity {
		return ErrCapacityExceeded
	}
	t.peers = append(t.peers, peer)
	return nil
}

// Remove drops peer from the table. It is idempotent: removing an
// absent peer is a no-op.
func (t *Table) Remove(peer NodeId) {
	for i, p := range t.peers {
		if p == peer {
			t.peers = append(t.peers[:i], t.peers[i+1:]...)
			return
		}
	}
}

// Contains reports whether peer is a known member.
func (t *Table) Contains(peer NodeId) bool {
	for _, p := range t.peers {
		if p == peer {
			return true
		}
	}
	return false
}

// ContainsDatagramPort reports whether some known peer's datagram
// endpoint matches port. Used by the dispatcher to detect strangers,
// which only ever identify themselves by their datagram source port.
func (t *Table) ContainsDatagramPort(port uint16) bool {
	for _, p := range t.peers {
		if p.DatagramPort == port {
			return true
		}
	}
	return false
}

// Len returns the current number of known peers (self excluded).
func (t *Table) Len() int {
	return len(t.peers)
}

// Peers returns a copy of the current peer list, in insertion order.
func (t *Table) Peers() []NodeId {
	out := make([]NodeId, len(t.peers))
	copy(out, t.peers)
	return out
}

// Snapshot renders a stable textual representation of the table for
// periodic status logging.
func (t *Table) Snapshot() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d peers: ", len(t.peers))
	for i, p := range t.peers {
		b.WriteString(p.String())
		if i < len(t.peers)-1 {
			b.WriteString(", ")
		}
	}
	return b.String()
}
