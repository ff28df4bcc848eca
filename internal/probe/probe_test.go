package probe

import (
	"testing"
	"time"

	"github.com/mcastellin/swim-gossip/internal/membership"
)

func peerList(n int) []membership.NodeId {
	peers := make([]membership.NodeId, n)
	for i := 0; i < n; i++ {
		peers[i] = membership.NodeId{StreamPort: uint16(8000 + i), DatagramPort: uint16(9000 + i)}
	}
	return peers
}

func TestCycleSweepCoversEveryPeer(t *testing.T) {
	peers := peerList(5)
	c := NewCycle()

	seen := map[membership.NodeId]bool{}
	for i := 0; i < len(peers); i++ {
		target, ok := c.Next(peers)
		if !ok {
			t.Fatalf("expected a target at step %d", i)
		}
		seen[target] = true
	}

	for _, p := range peers {
		if !seen[p] {
			t.Fatalf("peer %v was never probed within one sweep", p)
		}
	}
}

func TestCycleReseedsOnExhaustion(t *testing.T) {
	peers := peerList(2)
	c := NewCycle()

	for i := 0; i < 10; i++ {
		if _, ok := c.Next(peers); !ok {
			t.Fatalf("step %d: expected a target, sweep should reseed when exhausted", i)
		}
	}
}

func TestCycleNoPeers(t *testing.T) {
	c := NewCycle()
	if _, ok := c.Next(nil); ok {
		t.Fatal("expected no target when there are no peers")
	}
}

func TestCycleAckMatchesDatagramPort(t *testing.T) {
	peers := peerList(1)
	c := NewCycle()
	target, _ := c.Next(peers)

	if c.Ack(target.DatagramPort + 1) {
		t.Fatal("ack for unrelated datagram port should not match")
	}
	if c.Acked() {
		t.Fatal("cycle should not be acked yet")
	}
	if !c.Ack(target.DatagramPort) {
		t.Fatal("ack for current target's datagram port should match")
	}
	if !c.Acked() {
		t.Fatal("cycle should be acked now")
	}
}

func TestCycleOptimisticAck(t *testing.T) {
	peers := peerList(1)
	c := NewCycle()
	c.Next(peers)
	c.OptimisticAck()
	if !c.Acked() {
		t.Fatal("optimistic ack should always mark the cycle as acked")
	}
}

func TestPendingRequestsCapacityAndPurge(t *testing.T) {
	p := NewPendingRequests()
	now := time.Unix(0, 0)

	for i := 0; i < membership.Capacity; i++ {
		if err := p.Enqueue(uint16(i), uint16(i), now.Add(time.Millisecond), now); err != nil {
			t.Fatalf("entry %d: unexpected error: %v", i, err)
		}
	}

	if err := p.Enqueue(9999, 1, now.Add(time.Millisecond), now); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	// advancing past the deadline should free capacity via purge-on-insert
	later := now.Add(time.Second)
	if err := p.Enqueue(42, 42, later.Add(time.Millisecond), later); err != nil {
		t.Fatalf("expected room after expired entries purge, got: %v", err)
	}
}

func TestPendingRequestsFulfil(t *testing.T) {
	p := NewPendingRequests()
	now := time.Unix(0, 0)
	deadline := now.Add(750 * time.Millisecond)

	p.Enqueue(9003, 9001, deadline, now)
	p.Enqueue(9003, 9002, deadline, now)
	p.Enqueue(9004, 9001, deadline, now)

	requestors := p.Fulfil(9003, now.Add(time.Millisecond))
	if len(requestors) != 2 {
		t.Fatalf("expected 2 requestors for target 9003, got %d", len(requestors))
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 remaining entry for target 9004, got %d", p.Len())
	}

	// fulfilling again for the same target should find nothing -- entries were dropped
	requestors = p.Fulfil(9003, now.Add(2*time.Millisecond))
	if len(requestors) != 0 {
		t.Fatalf("expected no requestors on second fulfil pass, got %d", len(requestors))
	}
}

func TestPendingRequestsExpiredEntriesDropped(t *testing.T) {
	p := NewPendingRequests()
	now := time.Unix(0, 0)
	p.Enqueue(9003, 9001, now.Add(time.Millisecond), now)

	expired := now.Add(time.Second)
	requestors := p.Fulfil(9003, expired)
	if len(requestors) != 0 {
		t.Fatal("expired entry should not be fulfilled")
	}
	if p.Len() != 0 {
		t.Fatal("expired entry should have been purged")
	}
}
