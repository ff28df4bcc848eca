// Package wire implements the fixed-size, binary-encoded messages
// exchanged between nodes. Every field is a signed 32-bit integer;
// ports are carried as 32-bit on the wire even though membership.NodeId
// models them as the 16-bit values they actually are.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/mcastellin/swim-gossip/internal/membership"
)

// Capacity bounds the number of update/peer entries a single message
// can carry, matching membership.Capacity.
const Capacity = membership.Capacity

// FanOut is the number of datagram peers a gossip tick or an indirect
// probe request is sent to.
const FanOut = 2

// Timing constants, normative per the specification.
const (
	GracePeriod  = 3 * time.Second
	GossipPeriod = time.Second
	ProbePeriod  = time.Second

	// IndirectRequestDeadline is the lifetime of a relayed indirect-probe
	// request: 3*PROBE_PERIOD/4.
	IndirectRequestDeadline = 3 * ProbePeriod / 4

	// DirectProbeTimeout is how long the prober waits for a direct ack
	// before falling back to an indirect probe: PROBE_PERIOD/4.
	DirectProbeTimeout = ProbePeriod / 4
)

// MessageType classifies a GossipMessage.
type MessageType int32

const (
	GossipUpdate MessageType = 0
	Probe        MessageType = 1
	RequestProbe MessageType = 2
	AckProbe     MessageType = 3
	NotAPeer     MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case GossipUpdate:
		return "GOSSIP_UPDATE"
	case Probe:
		return "PROBE"
	case RequestProbe:
		return "REQUEST_PROBE"
	case AckProbe:
		return "ACK_PROBE"
	case NotAPeer:
		return "NOT_A_PEER"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

// Status mirrors broadcast.Status on the wire: 0 removed, 1 joined.
type Status int32

const (
	Removed Status = 0
	Joined  Status = 1
)

// JoinRequest is sent by a joining node over the stream endpoint.
type JoinRequest struct {
	StreamPort   int32
	DatagramPort int32
}

// JoinReply answers a JoinRequest with the gateway's current peer list,
// including the gateway itself. Only the first NumPeers entries of the
// port arrays are meaningful.
type JoinReply struct {
	NumPeers      int32
	StreamPorts   [Capacity]int32
	DatagramPorts [Capacity]int32
}

// GossipMessage is the single fixed-size message type used for all
// datagram traffic: gossip updates, probes, indirect-probe requests,
// acks and stranger rejection.
type GossipMessage struct {
	MessageType   int32
	CntUpdates    int32
	StreamPorts   [Capacity]int32
	DatagramPorts [Capacity]int32
	Statuses      [Capacity]int32

	SenderStreamPort   int32
	SenderDatagramPort int32
	SenderTime         int32

	// TargetDatagramPort is meaningful only when MessageType == RequestProbe.
	TargetDatagramPort int32
}

// Update is one membership-change triple carried by a GossipMessage.
type Update struct {
	Peer   membership.NodeId
	Status Status
}

// NewJoinRequest builds a JoinRequest from a NodeId.
func NewJoinRequest(self membership.NodeId) JoinRequest {
	return JoinRequest{
		StreamPort:   int32(self.StreamPort),
		DatagramPort: int32(self.DatagramPort),
	}
}

// NodeId converts the wire JoinRequest fields into a membership.NodeId.
func (r JoinRequest) NodeId() membership.NodeId {
	return membership.NodeId{
		StreamPort:   uint16(r.StreamPort),
		DatagramPort: uint16(r.DatagramPort),
	}
}

// NewJoinReply builds a JoinReply carrying peers plus the gateway's own
// identity appended last.
func NewJoinReply(peers []membership.NodeId, gateway membership.NodeId) (JoinReply, error) {
	total := len(peers) + 1
	if total > Capacity {
		return JoinReply{}, fmt.Errorf("wire: join reply would carry %d peers, capacity is %d", total, Capacity)
	}

	var reply JoinReply
	reply.NumPeers = int32(total)
	for i, p := range peers {
		reply.StreamPorts[i] = int32(p.StreamPort)
		reply.DatagramPorts[i] = int32(p.DatagramPort)
	}
	reply.StreamPorts[len(peers)] = int32(gateway.StreamPort)
	reply.DatagramPorts[len(peers)] = int32(gateway.DatagramPort)
	return reply, nil
}

// Peers extracts the meaningful NodeId entries from a JoinReply.
func (r JoinReply) Peers() []membership.NodeId {
	n := int(r.NumPeers)
	if n > Capacity {
		n = Capacity
	}
	out := make([]membership.NodeId, n)
	for i := 0; i < n; i++ {
		out[i] = membership.NodeId{
			StreamPort:   uint16(r.StreamPorts[i]),
			DatagramPort: uint16(r.DatagramPorts[i]),
		}
	}
	return out
}

// NewGossipUpdateMessage builds a GOSSIP_UPDATE message carrying updates.
func NewGossipUpdateMessage(updates []Update, sender membership.NodeId, senderTime int32) (GossipMessage, error) {
	if len(updates) > Capacity {
		return GossipMessage{}, fmt.Errorf("wire: %d updates exceeds capacity %d", len(updates), Capacity)
	}
	msg := GossipMessage{
		MessageType:        int32(GossipUpdate),
		CntUpdates:         int32(len(updates)),
		SenderStreamPort:   int32(sender.StreamPort),
		SenderDatagramPort: int32(sender.DatagramPort),
		SenderTime:         senderTime,
	}
	for i, u := range updates {
		msg.StreamPorts[i] = int32(u.Peer.StreamPort)
		msg.DatagramPorts[i] = int32(u.Peer.DatagramPort)
		msg.Statuses[i] = int32(u.Status)
	}
	return msg, nil
}

// NewProbeMessage builds a PROBE message.
func NewProbeMessage(sender membership.NodeId) GossipMessage {
	return GossipMessage{
		MessageType:        int32(Probe),
		SenderStreamPort:   int32(sender.StreamPort),
		SenderDatagramPort: int32(sender.DatagramPort),
	}
}

// NewAckProbeMessage builds an ACK_PROBE message identifying the
// acknowledging target by its own datagram port.
func NewAckProbeMessage(self membership.NodeId) GossipMessage {
	return GossipMessage{
		MessageType:        int32(AckProbe),
		SenderStreamPort:   int32(self.StreamPort),
		SenderDatagramPort: int32(self.DatagramPort),
	}
}

// NewRelayedAckProbeMessage builds a synthesized ACK_PROBE forwarded by
// an indirect-probe relay, identifying the original probed target.
func NewRelayedAckProbeMessage(relay membership.NodeId, target membership.NodeId) GossipMessage {
	return GossipMessage{
		MessageType:        int32(AckProbe),
		SenderStreamPort:   int32(relay.StreamPort),
		SenderDatagramPort: int32(target.DatagramPort),
	}
}

// NewRequestProbeMessage builds a REQUEST_PROBE message asking its
// recipient to probe target on behalf of sender.
func NewRequestProbeMessage(sender membership.NodeId, target membership.NodeId) GossipMessage {
	return GossipMessage{
		MessageType:        int32(RequestProbe),
		SenderStreamPort:   int32(sender.StreamPort),
		SenderDatagramPort: int32(sender.DatagramPort),
		TargetDatagramPort: int32(target.DatagramPort),
	}
}

// NewNotAPeerMessage builds a NOT_A_PEER rejection reply.
func NewNotAPeerMessage(sender membership.NodeId) GossipMessage {
	return GossipMessage{
		MessageType:        int32(NotAPeer),
		SenderStreamPort:   int32(sender.StreamPort),
		SenderDatagramPort: int32(sender.DatagramPort),
	}
}

// Updates extracts the embedded (peer, status) triples from a
// GOSSIP_UPDATE message.
func (m GossipMessage) Updates() []Update {
	n := int(m.CntUpdates)
	if n > Capacity {
		n = Capacity
	}
	out := make([]Update, n)
	for i := 0; i < n; i++ {
		out[i] = Update{
			Peer: membership.NodeId{
				StreamPort:   uint16(m.StreamPorts[i]),
				DatagramPort: uint16(m.DatagramPorts[i]),
			},
			Status: Status(m.Statuses[i]),
		}
	}
	return out
}

// Sender extracts the sender identity embedded in the message.
func (m GossipMessage) Sender() membership.NodeId {
	return membership.NodeId{
		StreamPort:   uint16(m.SenderStreamPort),
		DatagramPort: uint16(m.SenderDatagramPort),
	}
}

// WriteJoinRequest encodes req to w in wire byte order.
func WriteJoinRequest(w io.Writer, req JoinRequest) error {
	return binary.Write(w, Order, req)
}

// ReadJoinRequest decodes a JoinRequest from r.
func ReadJoinRequest(r io.Reader) (JoinRequest, error) {
	var req JoinRequest
	err := binary.Read(r, Order, &req)
	return req, err
}

// WriteJoinReply encodes reply to w in wire byte order.
func WriteJoinReply(w io.Writer, reply JoinReply) error {
	return binary.Write(w, Order, reply)
}

// ReadJoinReply decodes a JoinReply from r.
func ReadJoinReply(r io.Reader) (JoinReply, error) {
	var reply JoinReply
	err := binary.Read(r, Order, &reply)
	return reply, err
}

// WriteGossipMessage encodes msg to w in wire byte order.
func WriteGossipMessage(w io.Writer, msg GossipMessage) error {
	return binary.Write(w, Order, msg)
}

// ReadGossipMessage decodes a GossipMessage from r.
func ReadGossipMessage(r io.Reader) (GossipMessage, error) {
	var msg GossipMessage
	err := binary.Read(r, Order, &msg)
	return msg, err
}

// Size returns the fixed wire size, in bytes, of a GossipMessage.
func Size() int {
	return binary.Size(GossipMessage{})
}

// JoinRequestSize returns the fixed wire size, in bytes, of a JoinRequest.
func JoinRequestSize() int {
	return binary.Size(JoinRequest{})
}

// JoinReplySize returns the fixed wire size, in bytes, of a JoinReply.
func JoinReplySize() int {
	return binary.Size(JoinReply{})
}
