// Package node wires the membership table, broadcast queue, probe
// engine, dispatcher and rejoin handler together into a single Node
// value: the per-node state, guarded by one mutex and outliving every
// worker goroutine it spawns.
package node

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/swim-gossip/internal/broadcast"
	"github.com/mcastellin/swim-gossip/internal/membership"
	"github.com/mcastellin/swim-gossip/internal/probe"
	"github.com/mcastellin/swim-gossip/internal/wire"
)

// Node is the single guarded State object for one cluster participant.
type Node struct {
	// self is write-once at construction and may be read without mu.
	self membership.NodeId

	logger *zap.Logger

	mu         sync.Mutex
	table      *membership.Table
	broadcasts *broadcast.Queue
	cycle      *probe.Cycle
	pending    *probe.PendingRequests
	graceUntil time.Time
	lamport    int64

	rejoining atomic.Bool
}

// New creates a Node for the given identity. The membership table and
// broadcast queue start empty; callers populate them via Populate
// (startup seeds) or the join handshake.
func New(self membership.NodeId, logger *zap.Logger) *Node {
	return &Node{
		self:       self,
		logger:     logger,
		table:      membership.NewTable(self),
		broadcasts: broadcast.NewQueue(),
		cycle:      probe.NewCycle(),
		pending:    probe.NewPendingRequests(),
	}
}

// Self returns this node's own identity. Safe to call without holding
// any lock: the value never changes after construction.
func (n *Node) Self() membership.NodeId {
	return n.self
}

// Populate replaces the peer table with seeds and resets the grace
// period deadline to now+GRACE_PERIOD. Used on startup and on rejoin.
func (n *Node) Populate(seeds []membership.NodeId) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.table.Populate(seeds)
	n.graceUntil = time.Now().Add(wire.GracePeriod)
}

// RemainingGracePeriod reports how much longer probing/gossiping must
// be suppressed.
func (n *Node) RemainingGracePeriod() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()

	d := time.Until(n.graceUntil)
	if d < 0 {
		return 0
	}
	return d
}

// nextLamport increments and returns the Lamport clock. It is stamped
// on every outgoing gossip message for wire compatibility but never
// consulted locally to resolve conflicts.
func (n *Node) nextLamport() int64 {
	n.lamport++
	return n.lamport
}

// IsPeer reports whether senderDatagramPort belongs to a known peer.
// Used by the dispatcher's stranger check.
func (n *Node) IsPeer(senderDatagramPort uint16) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.table.ContainsDatagramPort(senderDatagramPort)
}

// Peers returns a snapshot of the current peer list.
func (n *Node) Peers() []membership.NodeId {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.table.Peers()
}

// Snapshot returns the stable textual peer-table representation used
// for periodic status logging.
func (n *Node) Snapshot() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.table.Snapshot()
}

// AppendMember adds peer to the table (used when accepting a join as
// gateway) and enqueues a matching Joined broadcast.
func (n *Node) AppendMember(peer membership.NodeId) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.table.Append(peer); err != nil {
		return err
	}
	n.broadcasts.Enqueue(peer, broadcast.Joined, n.table.Len())
	return nil
}

// RemoveMember removes peer from the table if present. Idempotent.
func (n *Node) RemoveMember(peer membership.NodeId) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.table.Remove(peer)
}

// updateMember applies one gossip update. Joined adds an absent,
// non-self peer and enqueues a matching broadcast; Removed removes a
// present peer and enqueues a matching broadcast. Either way the queue
// is reconciled against current table state afterwards so no broadcast
// survives that contradicts it.
func (n *Node) updateMember(peer membership.NodeId, status wire.Status) {
	switch status {
	case wire.Joined:
		if peer == n.self {
			return
		}
		if n.table.Contains(peer) {
			return
		}
		if err := n.table.Append(peer); err != nil {
			n.logger.Debug("dropping gossiped join, table at capacity", zap.Stringer("peer", peer))
			return
		}
		n.broadcasts.Enqueue(peer, broadcast.Joined, n.table.Len())
	case wire.Removed:
		if !n.table.Contains(peer) {
			return
		}
		n.table.Remove(peer)
		n.broadcasts.Enqueue(peer, broadcast.Removed, n.table.Len())
	}

	n.broadcasts.Reconcile(n.table)
}

// ProcessUpdates ingests every update embedded in an inbound gossip
// message.
func (n *Node) ProcessUpdates(msg wire.GossipMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, u := range msg.Updates() {
		n.updateMember(u.Peer, u.Status)
	}
}

// PendingGossip returns a snapshot of every broadcast currently queued
// for the next gossip tick, decrementing each one's remaining-rounds
// counter and purging any that reached zero. Returns nil if there is
// nothing to gossip this round.
func (n *Node) PendingGossip() []broadcast.Broadcast {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.broadcasts.Tick()
}

// BuildGossipMessage renders pending broadcasts as a wire GossipMessage,
// advancing the Lamport clock.
func (n *Node) BuildGossipMessage(pending []broadcast.Broadcast) (wire.GossipMessage, error) {
	n.mu.Lock()
	t := n.nextLamport()
	n.mu.Unlock()

	updates := make([]wire.Update, len(pending))
	for i, b := range pending {
		updates[i] = wire.Update{Peer: b.Peer, Status: wire.Status(b.Status)}
	}
	return wire.NewGossipUpdateMessage(updates, n.self, int32(t))
}

// RandomGossipTargets returns up to wire.FanOut peers chosen uniformly
// at random, without replacement, to gossip with this round.
func (n *Node) RandomGossipTargets() []membership.NodeId {
	n.mu.Lock()
	peers := n.table.Peers()
	n.mu.Unlock()

	return randomSample(peers, wire.FanOut, membership.NodeId{})
}

// ProbeNext advances the probe sweep and returns the next target,
// re-seeding from a fresh shuffle if the sweep is exhausted.
func (n *Node) ProbeNext() (membership.NodeId, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.cycle.Next(n.table.Peers())
}

// CheckAck reports whether an ACK_PROBE naming candidateDatagramPort
// matches (and thereby acknowledges) the currently probed target.
func (n *Node) CheckAck(candidateDatagramPort uint16) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.cycle.Ack(candidateDatagramPort)
}

// OptimisticAck marks the current probe target as acked because the
// local send could not even be attempted: local brokenness must never
// be confused with remote death.
func (n *Node) OptimisticAck() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.cycle.OptimisticAck()
}

// Acked reports whether the current probe target has been acked.
func (n *Node) Acked() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.cycle.Acked()
}

// IndirectRelayTargets returns up to wire.FanOut random peers other
// than target, to send REQUEST_PROBE to when a direct probe times out.
func (n *Node) IndirectRelayTargets(target membership.NodeId) []membership.NodeId {
	n.mu.Lock()
	peers := n.table.Peers()
	n.mu.Unlock()

	return randomSample(peers, wire.FanOut, target)
}

// VerdictDead removes target from the table and enqueues a Removed
// broadcast for it. Called once a full direct+indirect probe tick ends
// with no ack.
func (n *Node) VerdictDead(target membership.NodeId) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.table.Remove(target)
	n.broadcasts.Enqueue(target, broadcast.Removed, n.table.Len())
	n.broadcasts.Reconcile(n.table)
}

// AppendRequestProbe records a new indirect-probe relay obligation.
// Fatal (the caller is expected to exit) if the queue is at capacity.
func (n *Node) AppendRequestProbe(target, requestor uint16) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	return n.pending.Enqueue(target, requestor, now.Add(wire.IndirectRequestDeadline), now)
}

// FulfilRequestProbes purges expired indirect-probe relay entries and
// returns (having dropped them) the requestor datagram ports of every
// non-expired entry whose target is targetDatagramPort.
func (n *Node) FulfilRequestProbes(targetDatagramPort uint16) []uint16 {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.pending.Fulfil(targetDatagramPort, time.Now())
}

// ResetForRejoin clears broadcast, probe-cycle and pending-request state
// ahead of a rejoin handshake. It must not hold mu across the
// subsequent blocking sleep and handshake -- callers release the lock
// implicitly by this method returning before those happen.
func (n *Node) ResetForRejoin() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.broadcasts = broadcast.NewQueue()
	n.cycle.Clear()
	n.pending.Clear()
	n.lamport = 0
}

func (n *Node) String() string {
	return fmt.Sprintf("node[%s]", n.self)
}
