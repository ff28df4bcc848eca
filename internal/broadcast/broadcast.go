// Package broadcast implements the round-limited rumor queue
// that disseminates membership changes ("X joined", "X removed") via
// gossip, following the classic infect-and-die dissemination policy.
package broadcast

import (
	"math"

	"github.com/mcastellin/swim-gossip/internal/membership"
)

// Status is the kind of membership change a Broadcast announces.
type Status int32

const (
	// Removed mirrors the original wire encoding where 0 means removed.
	Removed Status = iota
	// Joined mirrors the original wire encoding where 1 means joined.
	Joined
)

func (s Status) String() string {
	if s == Joined {
		return "joined"
	}
	return "removed"
}

// Broadcast is a pending membership-change rumor with a remaining-rounds
// counter that decrements once per outbound gossip tick it is included
// in, and is dropped once it reaches zero.
type Broadcast struct {
	Peer            membership.NodeId
	Status          Status
	RemainingRounds int
}

// Rounds computes the number of gossip rounds a broadcast survives,
// following the classic gossip infectivity model: max(1, floor(2*ln(n))).
func Rounds(numPeers int) int {
	if numPeers <= 0 {
		return 1
	}
	r := int(2 * math.Log(float64(numPeers)))
	if r < 1 {
		return 1
	}
	return r
}

// Queue holds the set of pending broadcasts. Capacity grows dynamically
// (the underlying slice doubles as needed); it has no fixed upper bound.
type Queue struct {
	items []Broadcast
}

// NewQueue creates an empty broadcast queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue adds a new broadcast for peer/status, with its initial
// remaining-rounds counter computed from the current peer count.
func (q *Queue) Enqueue(peer membership.NodeId, status Status, numPeers int) {
	q.items = append(q.items, Broadcast{
		Peer:            peer,
		Status:          status,
		RemainingRounds: Rounds(numPeers),
	})
}

// Len returns the number of pending broadcasts.
func (q *Queue) Len() int {
	return len(q.items)
}

// Tick returns a snapshot of every broadcast currently queued (to be
// embedded in one outbound gossip message), decrements each one's
// remaining-rounds counter by exactly one, and purges any that reached
// zero. Returns nil if the queue was empty, in which case the caller
// sends no gossip message this round.
func (q *Queue) Tick() []Broadcast {
	if len(q.items) == 0 {
		return nil
	}

	out := make([]Broadcast, len(q.items))
	copy(out, q.items)

	kept := q.items[:0]
	for _, b := range q.items {
		b.RemainingRounds--
		if b.RemainingRounds > 0 {
			kept = append(kept, b)
		}
	}
	q.items = kept

	return out
}

// Reconcile drops any broadcast that contradicts the current table
// state: a Removed broadcast for a peer still present, or a Joined
// broadcast for a peer that is now absent. This prevents oscillation
// under concurrent contradictory rumors.
func (q *Queue) Reconcile(table *membership.Table) {
	kept := q.items[:0]
	for _, b := range q.items {
		present := table.Contains(b.Peer)
		if b.Status == Removed && present {
			continue
		}
		if b.Status == Joined && !present {
			continue
		}
		kept = append(kept, b)
	}
	q.items = kept
}
