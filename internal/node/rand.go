package node

import (
	"math/rand"

	"github.com/mcastellin/swim-gossip/internal/membership"
)

// randomSample returns up to k peers chosen uniformly at random without
// replacement, optionally excluding one NodeId (used to keep indirect
// probe relays from picking the probed target; gossip fan-out passes the
// zero NodeId).
func randomSample(peers []membership.NodeId, k int, exclude membership.NodeId) []membership.NodeId {
	candidates := make([]membership.NodeId, 0, len(peers))
	for _, p := range peers {
		if p != exclude {
			candidates = append(candidates, p)
		}
	}

	for i := len(candidates) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}

	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k]
}
