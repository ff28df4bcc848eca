package node

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/swim-gossip/internal/membership"
	"github.com/mcastellin/swim-gossip/internal/wire"
)

func testNode(self membership.NodeId) *Node {
	return New(self, zap.NewNop())
}

func TestPopulateSetsGracePeriod(t *testing.T) {
	n := testNode(membership.NodeId{StreamPort: 8001, DatagramPort: 9001})
	n.Populate([]membership.NodeId{{StreamPort: 8002, DatagramPort: 9002}})

	if n.RemainingGracePeriod() <= 0 {
		t.Fatal("expected a positive remaining grace period right after populate")
	}
	if len(n.Peers()) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(n.Peers()))
	}
}

func TestAppendMemberEnqueuesBroadcast(t *testing.T) {
	n := testNode(membership.NodeId{StreamPort: 8001, DatagramPort: 9001})
	peer := membership.NodeId{StreamPort: 8002, DatagramPort: 9002}

	if err := n.AppendMember(peer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending := n.PendingGossip()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending broadcast, got %d", len(pending))
	}
	if pending[0].Peer != peer {
		t.Fatalf("unexpected broadcast peer: %v", pending[0].Peer)
	}
}

func TestProcessUpdatesJoinAndRemove(t *testing.T) {
	self := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	n := testNode(self)
	peer := membership.NodeId{StreamPort: 8002, DatagramPort: 9002}

	joinMsg, _ := wire.NewGossipUpdateMessage([]wire.Update{
		{Peer: peer, Status: wire.Joined},
	}, peer, 1)
	n.ProcessUpdates(joinMsg)

	if !n.IsPeer(peer.DatagramPort) {
		t.Fatal("peer should have been added by Joined update")
	}

	removeMsg, _ := wire.NewGossipUpdateMessage([]wire.Update{
		{Peer: peer, Status: wire.Removed},
	}, peer, 2)
	n.ProcessUpdates(removeMsg)

	if n.IsPeer(peer.DatagramPort) {
		t.Fatal("peer should have been removed by Removed update")
	}
}

func TestProcessUpdatesRejectsSelfJoin(t *testing.T) {
	self := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	n := testNode(self)

	msg, _ := wire.NewGossipUpdateMessage([]wire.Update{
		{Peer: self, Status: wire.Joined},
	}, self, 1)
	n.ProcessUpdates(msg)

	if n.IsPeer(self.DatagramPort) {
		t.Fatal("a node must never add itself as a peer")
	}
}

func TestProcessUpdatesIdempotent(t *testing.T) {
	self := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	n := testNode(self)
	peer := membership.NodeId{StreamPort: 8002, DatagramPort: 9002}

	msg, _ := wire.NewGossipUpdateMessage([]wire.Update{
		{Peer: peer, Status: wire.Joined},
	}, peer, 1)
	n.ProcessUpdates(msg)
	n.ProcessUpdates(msg)

	if len(n.Peers()) != 1 {
		t.Fatalf("applying the same update twice should not duplicate the peer, got %d", len(n.Peers()))
	}
}

func TestVerdictDeadRemovesAndBroadcasts(t *testing.T) {
	self := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	n := testNode(self)
	target := membership.NodeId{StreamPort: 8002, DatagramPort: 9002}
	n.AppendMember(target)
	n.PendingGossip() // drain the join broadcast so we can isolate the removal one

	n.VerdictDead(target)

	if n.IsPeer(target.DatagramPort) {
		t.Fatal("probed-dead target should have been removed")
	}

	pending := n.PendingGossip()
	if len(pending) != 1 || pending[0].Status.String() != "removed" {
		t.Fatalf("expected a single Removed broadcast, got %+v", pending)
	}
}

func TestHandleDatagramRejectsStranger(t *testing.T) {
	self := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	n := testNode(self)

	stranger := membership.NodeId{StreamPort: 9999, DatagramPort: 9999}
	probe := wire.NewProbeMessage(stranger)

	from := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(stranger.DatagramPort)}
	n.HandleDatagram(probe, from)

	if n.IsPeer(stranger.DatagramPort) {
		t.Fatal("a stranger's PROBE must never add it as a peer")
	}
}

func TestHandleJoinRemovesStaleEntryAndAppends(t *testing.T) {
	gateway := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	n := testNode(gateway)

	peer := membership.NodeId{StreamPort: 8002, DatagramPort: 9002}
	n.AppendMember(peer) // simulate a stale prior membership for the same identity

	reply := n.HandleJoin(wire.NewJoinRequest(peer))

	peers := reply.Peers()
	if len(peers) != 1 || peers[0] != gateway {
		t.Fatalf("join reply should contain only the gateway (pre-append state), got %v", peers)
	}
	if !n.IsPeer(peer.DatagramPort) {
		t.Fatal("joining peer should be present after HandleJoin")
	}
}

func TestResetForRejoinClearsQueuedState(t *testing.T) {
	self := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	n := testNode(self)
	peer := membership.NodeId{StreamPort: 8002, DatagramPort: 9002}
	n.AppendMember(peer)

	n.ResetForRejoin()

	if len(n.PendingGossip()) != 0 {
		t.Fatal("broadcast queue should be empty after reset")
	}
}

func TestRejoinWithNoPeersIsTerminal(t *testing.T) {
	self := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	n := testNode(self)

	if err := n.rejoin(); err != ErrNoRejoinTarget {
		t.Fatalf("expected ErrNoRejoinTarget, got %v", err)
	}
}

func TestProbeCycleIntegration(t *testing.T) {
	self := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	n := testNode(self)
	peer := membership.NodeId{StreamPort: 8002, DatagramPort: 9002}
	n.AppendMember(peer)

	target, ok := n.ProbeNext()
	if !ok || target != peer {
		t.Fatalf("expected to probe the single known peer, got %v ok=%v", target, ok)
	}
	if n.Acked() {
		t.Fatal("should not be acked yet")
	}
	if !n.CheckAck(peer.DatagramPort) {
		t.Fatal("ack from the probed target's datagram port should be accepted")
	}
	if !n.Acked() {
		t.Fatal("cycle should now be acked")
	}
}

func TestIndirectRequestLifecycle(t *testing.T) {
	self := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	n := testNode(self)

	target := uint16(9003)
	requestor := uint16(9001)
	if err := n.AppendRequestProbe(target, requestor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	requestors := n.FulfilRequestProbes(target)
	if len(requestors) != 1 || requestors[0] != requestor {
		t.Fatalf("expected to fulfil the pending request for %d, got %v", requestor, requestors)
	}

	// second call should find nothing: the entry was consumed
	if got := n.FulfilRequestProbes(target); len(got) != 0 {
		t.Fatalf("expected no remaining requestors, got %v", got)
	}
}

func TestRunnerStartStop(t *testing.T) {
	self := membership.NodeId{StreamPort: 0, DatagramPort: 0}
	n := testNode(self)
	logger := zap.NewNop()

	r, err := NewRunner(n, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Serve()
	time.Sleep(10 * time.Millisecond)
	if err := r.Shutdown(); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}
