package broadcast

import (
	"testing"

	"github.com/mcastellin/swim-gossip/internal/membership"
)

func TestRounds(t *testing.T) {
	testCases := []struct {
		NumPeers int
		Expected int
	}{
		{NumPeers: 0, Expected: 1},
		{NumPeers: 1, Expected: 1},
		{NumPeers: 3, Expected: 2},
		{NumPeers: 100, Expected: 9},
	}

	for _, tc := range testCases {
		if got := Rounds(tc.NumPeers); got != tc.Expected {
			t.Fatalf("case %v: expected %d, got %d", tc, tc.Expected, got)
		}
	}
}

func TestTickDecrementsAndPurges(t *testing.T) {
	q := NewQueue()
	peer := membership.NodeId{StreamPort: 8002, DatagramPort: 9002}
	q.items = []Broadcast{{Peer: peer, Status: Joined, RemainingRounds: 1}}

	out := q.Tick()
	if len(out) != 1 {
		t.Fatalf("expected 1 broadcast in tick output, got %d", len(out))
	}
	if out[0].RemainingRounds != 1 {
		t.Fatalf("tick output should carry the pre-decrement counter, got %d", out[0].RemainingRounds)
	}
	if q.Len() != 0 {
		t.Fatalf("broadcast with remaining_rounds reaching 0 should be purged, queue has %d", q.Len())
	}
}

func TestTickEmptyQueueReturnsNil(t *testing.T) {
	q := NewQueue()
	if out := q.Tick(); out != nil {
		t.Fatalf("expected nil for empty queue, got %v", out)
	}
}

func TestReconcileDropsContradictions(t *testing.T) {
	self := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	table := membership.NewTable(self)

	present := membership.NodeId{StreamPort: 8002, DatagramPort: 9002}
	absent := membership.NodeId{StreamPort: 8003, DatagramPort: 9003}
	table.Append(present)

	q := NewQueue()
	q.Enqueue(present, Removed, 1) // contradiction: removed but present
	q.Enqueue(absent, Joined, 1)   // contradiction: joined but absent
	q.Enqueue(present, Joined, 1)  // consistent

	q.Reconcile(table)

	if q.Len() != 1 {
		t.Fatalf("expected 1 surviving broadcast, found %d", q.Len())
	}
	if q.items[0].Peer != present || q.items[0].Status != Joined {
		t.Fatalf("unexpected surviving broadcast: %+v", q.items[0])
	}
}

func TestReconcileIdempotentDoubleApply(t *testing.T) {
	self := membership.NodeId{StreamPort: 8001, DatagramPort: 9001}
	table := membership.NewTable(self)
	peer := membership.NodeId{StreamPort: 8002, DatagramPort: 9002}
	table.Append(peer)

	q := NewQueue()
	q.Enqueue(peer, Joined, 1)
	q.Enqueue(peer, Joined, 1)

	q.Reconcile(table)
	first := q.Len()
	q.Reconcile(table)

	if q.Len() != first {
		t.Fatalf("reconcile should be idempotent: first=%d second=%d", first, q.Len())
	}
}
