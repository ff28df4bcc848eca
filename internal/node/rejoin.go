package node

import (
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/swim-gossip/internal/transport"
	"github.com/mcastellin/swim-gossip/internal/wire"
)

// ErrNoRejoinTarget is returned when a rejoin is attempted with an empty
// peer table: this is terminal -- there is nobody to rejoin through.
var ErrNoRejoinTarget = errors.New("node: no peer available to rejoin through")

// HandleJoin is the gateway side of the join handshake: remove any
// stale prior entry for the same identity, reply with the current peer
// list plus self, then append the new peer and broadcast its arrival.
func (n *Node) HandleJoin(req wire.JoinRequest) wire.JoinReply {
	peer := req.NodeId()

	// Stale rejoin from the same identity: drop any prior entry first so
	// the reply and the subsequent append reflect a clean join.
	n.RemoveMember(peer)

	n.mu.Lock()
	currentPeers := n.table.Peers()
	n.mu.Unlock()

	reply, err := wire.NewJoinReply(currentPeers, n.self)
	if err != nil {
		n.logger.Error("failed to build join reply, peer table too large", zap.Error(err))
		return wire.JoinReply{}
	}

	if err := n.AppendMember(peer); err != nil {
		n.logger.Error("failed to admit joining peer, table at capacity",
			zap.Stringer("peer", peer), zap.Error(err))
	}

	return reply
}

// onNotAPeer triggers the rejoin handler on receipt of NOT_A_PEER,
// spawning it in the background so the dispatch/receive loop that
// observed the message is never blocked by the handshake's multi-second
// grace-period sleep. Concurrent triggers collapse into the single
// rejoin already in flight.
func (n *Node) onNotAPeer() {
	if !n.rejoining.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer n.rejoining.Store(false)
		if err := n.rejoin(); err != nil {
			n.logger.Error("rejoin failed", zap.Error(err))
		}
	}()
}

// rejoin resets local state and re-executes the join handshake against
// a random current peer. The state lock must be released across the
// blocking sleep and the blocking join handshake: ResetForRejoin
// acquires and releases mu internally, and this function never holds
// mu itself while sleeping or dialing.
func (n *Node) rejoin() error {
	n.logger.Info("received NOT_A_PEER, resetting local state")
	n.ResetForRejoin()

	peers := n.Peers()
	if len(peers) == 0 {
		return ErrNoRejoinTarget
	}

	time.Sleep(wire.GracePeriod)

	target := peers[rand.Intn(len(peers))]
	addr := fmt.Sprintf("%s:%d", loopbackHost, target.StreamPort)

	reply, err := transport.SendJoin(addr, wire.NewJoinRequest(n.self))
	if err != nil {
		return fmt.Errorf("node: rejoin handshake against %s failed: %w", target, err)
	}

	rejoined := reply.Peers()
	n.Populate(rejoined)
	n.logger.Info("rejoin succeeded",
		zap.Stringer("gateway", target), zap.Int("peers", len(rejoined)))
	return nil
}
