package node

import (
	"context"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/mcastellin/swim-gossip/internal/wire"
)

// gossiperLoop disseminates pending membership-change broadcasts at a
// fixed GOSSIP_PERIOD cadence. If the queue is empty, no message is
// sent this round.
func (n *Node) gossiperLoop(ctx context.Context) {
	ticker := time.NewTicker(wire.GossipPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.gossipTick()
		}
	}
}

func (n *Node) gossipTick() {
	pending := n.PendingGossip()
	if len(pending) == 0 {
		return
	}

	msg, err := n.BuildGossipMessage(pending)
	if err != nil {
		n.logger.Debug("failed to build gossip message", zap.Error(err))
		return
	}

	targets := n.RandomGossipTargets()
	if len(targets) == 0 {
		return
	}

	roundID := xid.New().String()
	for _, target := range targets {
		if err := n.sendDatagram(target.DatagramPort, msg); err != nil {
			n.logger.Debug("gossip send failed",
				zap.String("round", roundID), zap.Stringer("target", target), zap.Error(err))
			continue
		}
		n.logger.Debug("gossip sent",
			zap.String("round", roundID),
			zap.Stringer("target", target),
			zap.Int("updates", len(pending)))
	}
}
