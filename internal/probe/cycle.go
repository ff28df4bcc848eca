// Package probe implements the bookkeeping of the SWIM-style two-phase
// failure detector: the round-robin sweep of the peer table (ProbeCycle)
// and the bounded queue of outstanding indirect-probe relays
// (PendingIndirectRequests). The state machine that drives these every
// tick lives in the node package, which owns the single state lock these
// types are mutated under.
package probe

import (
	"math/rand"

	"github.com/mcastellin/swim-gossip/internal/membership"
)

// shuffle returns a uniformly random permutation of peers using the
// Fisher-Yates algorithm.
func shuffle(peers []membership.NodeId) []membership.NodeId {
	out := make([]membership.NodeId, len(peers))
	copy(out, peers)
	for i := len(out) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Cycle is the mutable bookkeeping of one sweep through the peer table.
type Cycle struct {
	pending []membership.NodeId
	current *membership.NodeId
	acked   bool
}

// NewCycle creates an empty probe cycle.
func NewCycle() *Cycle {
	return &Cycle{}
}

// Next pops the next probe target from the back of the pending sweep,
// re-seeding from a fresh Fisher-Yates shuffle of peers if the sweep is
// exhausted. Returns false if peers is empty.
func (c *Cycle) Next(peers []membership.NodeId) (membership.NodeId, bool) {
	if len(c.pending) == 0 {
		if len(peers) == 0 {
			return membership.NodeId{}, false
		}
		c.pending = shuffle(peers)
	}

	n := len(c.pending) - 1
	target := c.pending[n]
	c.pending = c.pending[:n]

	c.current = &target
	c.acked = false
	return target, true
}

// Current returns the target currently being probed, if any.
func (c *Cycle) Current() (membership.NodeId, bool) {
	if c.current == nil {
		return membership.NodeId{}, false
	}
	return *c.current, true
}

// Acked reports whether the current target has been acknowledged.
func (c *Cycle) Acked() bool {
	return c.acked
}

// Ack marks the current target as acknowledged if its datagram port
// matches candidate. Direct acks and relayed (indirect) acks are
// indistinguishable at the prober -- both count, so callers pass
// whatever datagram port the inbound ACK_PROBE claims.
func (c *Cycle) Ack(datagramPort uint16) bool {
	if c.current == nil || c.current.DatagramPort != datagramPort {
		return false
	}
	c.acked = true
	return true
}

// OptimisticAck unconditionally marks the current probe as acked. Used
// when the local send itself could not even be attempted (socket
// creation or sendto failure): local brokenness must never be confused
// with remote death.
func (c *Cycle) OptimisticAck() {
	c.acked = true
}

// Clear resets the cycle to empty, discarding any in-flight target.
// Used by the rejoin handler when local state is torn down.
func (c *Cycle) Clear() {
	c.pending = nil
	c.current = nil
	c.acked = false
}
