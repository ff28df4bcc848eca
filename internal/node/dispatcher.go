package node

import (
	"net"

	"go.uber.org/zap"

	"github.com/mcastellin/swim-gossip/internal/membership"
	"github.com/mcastellin/swim-gossip/internal/wire"
)

// HandleDatagram is the datagram receive loop's message router: every
// inbound datagram is first checked against the peer table; strangers
// get a NOT_A_PEER reply and nothing else happens. Otherwise the
// message is routed by type.
func (n *Node) HandleDatagram(msg wire.GossipMessage, from *net.UDPAddr) {
	sender := msg.Sender()

	if !n.IsPeer(sender.DatagramPort) {
		n.logger.Debug("rejecting datagram from non-peer", zap.Stringer("sender", sender))
		n.replyNotAPeer(sender.DatagramPort)
		return
	}

	switch wire.MessageType(msg.MessageType) {
	case wire.GossipUpdate:
		n.ProcessUpdates(msg)

	case wire.Probe:
		n.replyAck(sender.DatagramPort)

	case wire.AckProbe:
		n.CheckAck(sender.DatagramPort)
		n.relayAcks(sender.DatagramPort)

	case wire.RequestProbe:
		n.handleRequestProbe(msg)

	case wire.NotAPeer:
		n.onNotAPeer()

	default:
		n.logger.Debug("dropping datagram of unknown type", zap.Int32("type", msg.MessageType))
	}
}

func (n *Node) replyAck(toDatagramPort uint16) {
	msg := wire.NewAckProbeMessage(n.self)
	if err := n.sendDatagram(toDatagramPort, msg); err != nil {
		n.logger.Debug("failed to send ack", zap.Uint16("to", toDatagramPort), zap.Error(err))
	}
}

func (n *Node) replyNotAPeer(toDatagramPort uint16) {
	msg := wire.NewNotAPeerMessage(n.self)
	if err := n.sendDatagram(toDatagramPort, msg); err != nil {
		n.logger.Debug("failed to send not-a-peer reply", zap.Uint16("to", toDatagramPort), zap.Error(err))
	}
}

// relayAcks forwards a synthesized ACK_PROBE to every requestor whose
// pending indirect-probe request named targetDatagramPort.
func (n *Node) relayAcks(targetDatagramPort uint16) {
	requestors := n.FulfilRequestProbes(targetDatagramPort)
	if len(requestors) == 0 {
		return
	}

	target := membership.NodeId{DatagramPort: targetDatagramPort}
	msg := wire.NewRelayedAckProbeMessage(n.self, target)
	for _, requestor := range requestors {
		if err := n.sendDatagram(requestor, msg); err != nil {
			n.logger.Debug("failed to relay ack", zap.Uint16("to", requestor), zap.Error(err))
		}
	}
}

// handleRequestProbe is the indirect-probe relay side: record the
// obligation, then probe the target directly. AppendRequestProbe
// returning an error means the pending-request queue is exhausted,
// which is treated as fatal.
func (n *Node) handleRequestProbe(msg wire.GossipMessage) {
	sender := msg.Sender()
	targetPort := uint16(msg.TargetDatagramPort)

	if err := n.AppendRequestProbe(targetPort, sender.DatagramPort); err != nil {
		n.logger.Fatal("pending indirect-request queue exhausted", zap.Error(err))
	}

	probeMsg := wire.NewProbeMessage(n.self)
	if err := n.sendDatagram(targetPort, probeMsg); err != nil {
		n.logger.Debug("relay's direct probe send failed", zap.Uint16("target", targetPort), zap.Error(err))
	}
}
