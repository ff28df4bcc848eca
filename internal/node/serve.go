package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mcastellin/swim-gossip/internal/logging"
	"github.com/mcastellin/swim-gossip/internal/transport"
	"github.com/mcastellin/swim-gossip/internal/wire"
)

// loopbackHost is the address every NodeId's port pair resolves
// against: this cluster runs all of its nodes on one host.
const loopbackHost = "127.0.0.1"

// Runner owns the transport endpoints and worker goroutines for one
// Node: four long-lived workers (stream listener, datagram listener,
// prober, gossiper) plus a status-printing goroutine.
type Runner struct {
	node   *Node
	logger *zap.Logger

	stream   *transport.StreamEndpoint
	datagram *transport.DatagramEndpoint

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewRunner binds the stream and datagram endpoints for n. A bind
// failure here is a configuration error: the caller should treat a
// non-nil error as reason to exit.
func NewRunner(n *Node, logger *zap.Logger) (*Runner, error) {
	// Both endpoints are attempted even if one fails, so a caller facing
	// two simultaneously misconfigured ports sees both reasons at once
	// instead of just the first.
	stream, streamErr := transport.ListenStream(n.Self().StreamPort, logger)
	datagram, datagramErr := transport.ListenDatagram(n.Self().DatagramPort, logger)

	if err := multierr.Append(streamErr, datagramErr); err != nil {
		if stream != nil {
			stream.Close()
		}
		if datagram != nil {
			datagram.Close()
		}
		return nil, fmt.Errorf("node: %w", err)
	}

	return &Runner{node: n, logger: logger, stream: stream, datagram: datagram}, nil
}

// Serve starts the four long-lived workers: stream listener, datagram
// listener, prober, gossiper, plus a periodic status-log goroutine.
// Probing and gossiping are suppressed until the grace period elapses.
func (r *Runner) Serve() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.stream.Serve(ctx, r.node.HandleJoin)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.datagram.Serve(ctx, r.node.HandleDatagram)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.waitGracePeriod(ctx)
		r.node.gossiperLoop(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.waitGracePeriod(ctx)
		r.node.proberLoop(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.statusLoop(ctx)
	}()
}

func (r *Runner) waitGracePeriod(ctx context.Context) {
	for {
		remaining := r.node.RemainingGracePeriod()
		if remaining <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(remaining):
		}
	}
}

// statusLoop periodically logs the current peer table under the
// "peers" category: the one status line the stress-test logging mode
// keeps.
func (r *Runner) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(wire.GossipPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logger.Info(r.node.Snapshot(), logging.Category(logging.PeersCategory))
		}
	}
}

// Shutdown cancels every worker and closes both transport endpoints,
// blocking until all workers have returned.
func (r *Runner) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return fmt.Errorf("node: runner not started")
	}

	r.cancel()
	r.stream.Close()
	r.datagram.Close()
	r.wg.Wait()
	r.started = false
	return nil
}

// sendDatagram sends msg to the peer listening on datagramPort, on the
// shared loopback host every node in this demo cluster binds to.
func (n *Node) sendDatagram(datagramPort uint16, msg wire.GossipMessage) error {
	addr := fmt.Sprintf("%s:%d", loopbackHost, datagramPort)
	return transport.SendDatagram(addr, msg)
}
