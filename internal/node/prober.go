package node

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/swim-gossip/internal/membership"
	"github.com/mcastellin/swim-gossip/internal/wire"
)

// proberLoop drives the SWIM-style two-phase failure detector at a
// fixed PROBE_PERIOD cadence:
//
//	IDLE -> PICK -> DIRECT_PROBE -> (ack within t/4 -> ALIVE)
//	                             -> (no ack -> INDIRECT -> ack by tick end -> ALIVE
//	                                                     -> no ack -> DEAD, evict)
//
// The state lock is never held across the sub-phase sleeps: each phase
// locks Node only for the instant it needs to read or mutate shared
// state.
func (n *Node) proberLoop(ctx context.Context) {
	ticker := time.NewTicker(wire.ProbePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.probeTick(ctx)
		}
	}
}

func (n *Node) probeTick(ctx context.Context) {
	target, ok := n.ProbeNext()
	if !ok {
		return
	}

	n.sendDirectProbe(target)

	select {
	case <-ctx.Done():
		return
	case <-time.After(wire.DirectProbeTimeout):
	}

	if n.Acked() {
		n.logger.Debug("probe acked directly", zap.Stringer("target", target))
		return
	}

	n.sendIndirectRequests(target)

	select {
	case <-ctx.Done():
		return
	case <-time.After(wire.ProbePeriod - wire.DirectProbeTimeout):
	}

	if n.Acked() {
		n.logger.Debug("probe acked indirectly", zap.Stringer("target", target))
		return
	}

	n.logger.Info("probe target presumed dead, evicting",
		zap.Stringer("target", target))
	n.VerdictDead(target)
}

// sendDirectProbe sends a PROBE datagram straight to target. If the
// socket cannot even be created or sendto fails, the target is
// optimistically declared alive for this tick rather than risk killing
// a remote peer over a purely local problem.
func (n *Node) sendDirectProbe(target membership.NodeId) {
	msg := wire.NewProbeMessage(n.self)
	if err := n.sendDatagram(target.DatagramPort, msg); err != nil {
		n.logger.Debug("direct probe send failed, optimistically marking alive",
			zap.Stringer("target", target), zap.Error(err))
		n.OptimisticAck()
	}
}

// sendIndirectRequests asks up to wire.FanOut peers other than target
// to probe it on this node's behalf.
func (n *Node) sendIndirectRequests(target membership.NodeId) {
	relays := n.IndirectRelayTargets(target)
	if len(relays) == 0 {
		return
	}

	msg := wire.NewRequestProbeMessage(n.self, target)
	for _, relay := range relays {
		if err := n.sendDatagram(relay.DatagramPort, msg); err != nil {
			n.logger.Debug("indirect probe request send failed",
				zap.Stringer("relay", relay), zap.Error(err))
		}
	}
}
