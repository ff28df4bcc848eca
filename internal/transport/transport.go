// Package transport implements the two endpoints a node binds at
// startup: a reliable stream endpoint used only for the join handshake,
// and a datagram endpoint used for all steady-state gossip and probe
// traffic. Both endpoints serve on a context that's cancelled at
// shutdown rather than relying on error-based teardown.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/swim-gossip/internal/retry"
	"github.com/mcastellin/swim-gossip/internal/wire"
)

// bindAttempts and bindInterval bound the listener bind retries: up to
// 5 attempts at 100ms intervals before giving up.
const (
	bindAttempts = 5
	bindInterval = 100 * time.Millisecond
)

// JoinHandler answers an inbound JoinRequest over the stream endpoint.
type JoinHandler func(wire.JoinRequest) wire.JoinReply

// DatagramHandler processes one inbound GossipMessage, identified by
// the sender's UDP address.
type DatagramHandler func(msg wire.GossipMessage, from *net.UDPAddr)

// StreamEndpoint is the join-handshake listener: bound once, accepts
// one connection at a time, reads one JoinRequest, replies with one
// JoinReply, closes.
type StreamEndpoint struct {
	listener net.Listener
	logger   *zap.Logger
}

// ListenStream binds the stream endpoint, retrying per the bind policy
// above. A final bind failure is returned for the caller to treat as
// fatal: a node cannot serve without its stream endpoint.
func ListenStream(port uint16, logger *zap.Logger) (*StreamEndpoint, error) {
	addr := fmt.Sprintf(":%d", port)

	var listener net.Listener
	bo := retry.NewBackoff(bindInterval, 0, bindInterval)
	err := retry.Retry(bindAttempts, bo, func() error {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Debug("failed to bind stream endpoint, retrying", zap.Error(err))
			return err
		}
		listener = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transport: failed to bind stream endpoint on %s after %d attempts: %w", addr, bindAttempts, err)
	}

	return &StreamEndpoint{listener: listener, logger: logger}, nil
}

// Addr returns the bound address.
func (s *StreamEndpoint) Addr() net.Addr {
	return s.listener.Addr()
}

// Close releases the listening socket.
func (s *StreamEndpoint) Close() error {
	return s.listener.Close()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Per-connection failures (accept, recv, send) are logged and
// skipped, never fatal.
func (s *StreamEndpoint) Serve(ctx context.Context, handle JoinHandler) {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Debug("stream accept failed, resuming", zap.Error(err))
				continue
			}
		}
		s.serveConn(conn, handle)
	}
}

func (s *StreamEndpoint) serveConn(conn net.Conn, handle JoinHandler) {
	defer conn.Close()

	req, err := wire.ReadJoinRequest(conn)
	if err != nil {
		s.logger.Debug("failed to receive join request, dropping connection", zap.Error(err))
		return
	}

	reply := handle(req)

	if err := wire.WriteJoinReply(conn, reply); err != nil {
		s.logger.Debug("failed to send join reply", zap.Error(err))
	}
}

// SendJoin dials addr, sends req and reads back one JoinReply. Failure
// is returned to the caller: the initial join treats it as fatal (a node
// with no cluster to join has nothing to serve), while the rejoin
// handler logs it and gives up on that attempt.
func SendJoin(addr string, req wire.JoinRequest) (wire.JoinReply, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return wire.JoinReply{}, fmt.Errorf("transport: dialing join gateway %s: %w", addr, err)
	}
	defer conn.Close()

	if err := wire.WriteJoinRequest(conn, req); err != nil {
		return wire.JoinReply{}, fmt.Errorf("transport: sending join request to %s: %w", addr, err)
	}

	reply, err := wire.ReadJoinReply(conn)
	if err != nil {
		return wire.JoinReply{}, fmt.Errorf("transport: reading join reply from %s: %w", addr, err)
	}
	return reply, nil
}

// DatagramEndpoint is the steady-state gossip/probe listener.
type DatagramEndpoint struct {
	conn   *net.UDPConn
	logger *zap.Logger
}

// ListenDatagram binds the datagram endpoint, retrying per the same
// bind policy as the stream endpoint.
func ListenDatagram(port uint16, logger *zap.Logger) (*DatagramEndpoint, error) {
	laddr := &net.UDPAddr{Port: int(port)}

	var conn *net.UDPConn
	bo := retry.NewBackoff(bindInterval, 0, bindInterval)
	err := retry.Retry(bindAttempts, bo, func() error {
		c, err := net.ListenUDP("udp", laddr)
		if err != nil {
			logger.Debug("failed to bind datagram endpoint, retrying", zap.Error(err))
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transport: failed to bind datagram endpoint on port %d after %d attempts: %w", port, bindAttempts, err)
	}

	return &DatagramEndpoint{conn: conn, logger: logger}, nil
}

// Addr returns the bound address.
func (d *DatagramEndpoint) Addr() net.Addr {
	return d.conn.LocalAddr()
}

// Close releases the datagram socket.
func (d *DatagramEndpoint) Close() error {
	return d.conn.Close()
}

// Serve runs the receive loop until ctx is cancelled or the socket is
// closed. Receive errors are logged and the loop continues.
func (d *DatagramEndpoint) Serve(ctx context.Context, handle DatagramHandler) {
	go func() {
		<-ctx.Done()
		d.conn.Close()
	}()

	buf := make([]byte, wire.Size())
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				d.logger.Debug("datagram recv failed, resuming", zap.Error(err))
				continue
			}
		}
		if n != len(buf) {
			d.logger.Debug("dropping truncated datagram", zap.Int("bytes", n))
			continue
		}

		msg, err := decodeGossipMessage(buf)
		if err != nil {
			d.logger.Debug("dropping malformed datagram", zap.Error(err))
			continue
		}
		handle(msg, from)
	}
}

// SendDatagram opens, uses and drops its own socket to send msg to
// addr. Best-effort: failures are returned for the caller to log and
// swallow, never fatal.
func SendDatagram(addr string, msg wire.GossipMessage) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: resolving %s: %w", addr, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("transport: opening datagram socket to %s: %w", addr, err)
	}
	defer conn.Close()

	if err := wire.WriteGossipMessage(conn, msg); err != nil {
		return fmt.Errorf("transport: sending datagram to %s: %w", addr, err)
	}
	return nil
}

func decodeGossipMessage(buf []byte) (wire.GossipMessage, error) {
	return wire.ReadGossipMessage(bytes.NewReader(buf))
}
