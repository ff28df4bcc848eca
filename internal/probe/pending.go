package probe

import (
	"errors"
	"time"

	"github.com/mcastellin/swim-gossip/internal/membership"
)

// ErrCapacityExceeded is returned by PendingRequests.Enqueue when the
// queue is still at capacity after purging expired entries.
var ErrCapacityExceeded = errors.New("probe: pending indirect-request queue at capacity")

// PendingRequest records one outstanding indirect-probe relay this node
// took on behalf of a requestor.
type PendingRequest struct {
	TargetDatagramPort    uint16
	RequestorDatagramPort uint16
	Deadline              time.Time
}

// PendingRequests is the bounded queue of outstanding indirect-probe
// relays. Capacity is membership.Capacity; older expired entries are
// purged on every insertion or fulfilment pass.
type PendingRequests struct {
	items []PendingRequest
}

// NewPendingRequests creates an empty pending-requests queue.
func NewPendingRequests() *PendingRequests {
	return &PendingRequests{}
}

func (p *PendingRequests) purgeExpired(now time.Time) {
	kept := p.items[:0]
	for _, it := range p.items {
		if it.Deadline.After(now) {
			kept = append(kept, it)
		}
	}
	p.items = kept
}

// Enqueue records a new pending indirect-probe request, purging expired
// entries first. Returns ErrCapacityExceeded if the queue is still full
// afterwards -- per spec this is a fatal condition for the caller.
func (p *PendingRequests) Enqueue(target, requestor uint16, deadline, now time.Time) error {
	p.purgeExpired(now)
	if len(p.items) >= membership.Capacity {
		return ErrCapacityExceeded
	}
	p.items = append(p.items, PendingRequest{
		TargetDatagramPort:    target,
		RequestorDatagramPort: requestor,
		Deadline:              deadline,
	})
	return nil
}

// Fulfil purges expired entries, then removes and returns the requestor
// datagram ports of every remaining entry whose target matches
// targetDatagramPort. The caller relays a synthesized ACK_PROBE to each
// returned requestor.
func (p *PendingRequests) Fulfil(targetDatagramPort uint16, now time.Time) []uint16 {
	p.purgeExpired(now)

	var requestors []uint16
	kept := p.items[:0]
	for _, it := range p.items {
		if it.TargetDatagramPort == targetDatagramPort {
			requestors = append(requestors, it.RequestorDatagramPort)
			continue
		}
		kept = append(kept, it)
	}
	p.items = kept
	return requestors
}

// Len returns the number of outstanding pending requests (including any
// not-yet-purged expired entries).
func (p *PendingRequests) Len() int {
	return len(p.items)
}

// Clear discards all pending requests. Used by the rejoin handler.
func (p *PendingRequests) Clear() {
	p.items = nil
}
