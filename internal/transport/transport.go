// Package transport wraps a UDP socket bound to the protocol's fixed local
// port and targeting a fixed remote endpoint, mirroring every send/receive
// to the diagnostics logger as spec.md §6 requires. Adapted from the
// teacher's clientudp.transferOnce dial/buffer-tuning code.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"robotudp/internal/config"
	"robotudp/internal/diagnostics"
	"robotudp/internal/metrics"
	"robotudp/internal/protocol"
)

// ErrTimeout signals that Recv's deadline elapsed with nothing received —
// spec.md's Timeout error kind, handled locally by retry/resend and never
// fatal on its own.
var ErrTimeout = errors.New("transport: receive timeout")

// Transport is a thin, diagnostics-instrumented UDP socket.
type Transport struct {
	conn *net.UDPConn
	log  *diagnostics.Logger
	m    *metrics.Registry
}

// Dial binds localPort and connects to host:remotePort.
func Dial(host string, remotePort, localPort int, log *diagnostics.Logger) (*Transport, error) {
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, remotePort))
	if err != nil {
		return nil, fmt.Errorf("transport: resolving %s:%d: %w", host, remotePort, err)
	}
	local := &net.UDPAddr{Port: localPort}
	conn, err := net.DialUDP("udp", local, remote)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s:%d from local port %d: %w", host, remotePort, localPort, err)
	}
	_ = conn.SetReadBuffer(4 << 20)
	_ = conn.SetWriteBuffer(4 << 20)
	return &Transport{conn: conn, log: log}, nil
}

// Close releases the underlying socket.
func (t *Transport) Close() error { return t.conn.Close() }

// LocalAddr returns the socket's bound local address.
func (t *Transport) LocalAddr() *net.UDPAddr { return t.conn.LocalAddr().(*net.UDPAddr) }

// SetMetrics attaches a registry that Send/Recv report packet counts to.
// Optional — a Transport with no registry simply skips instrumentation.
func (t *Transport) SetMetrics(m *metrics.Registry) { t.m = m }

// Send serializes and transmits p, returning false on a non-fatal I/O
// error (per spec.md §4.2).
func (t *Transport) Send(p protocol.Packet) bool {
	_, err := t.conn.Write(p.Encode())
	if t.m != nil {
		t.m.PacketsSent.WithLabelValues(p.Flag.String()).Inc()
	}
	if t.log != nil {
		t.log.Packet("SEND", p)
	}
	return err == nil
}

// Recv blocks for up to deadline (0 means block indefinitely) and returns
// the next datagram as a Packet, or ErrTimeout.
func (t *Transport) Recv(deadline time.Duration) (protocol.Packet, error) {
	if deadline > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(deadline))
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, protocol.MaxDatagram)
	n, err := t.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return protocol.Packet{}, ErrTimeout
		}
		return protocol.Packet{}, fmt.Errorf("transport: receive: %w", err)
	}
	p, err := protocol.Decode(buf[:n])
	if err != nil {
		return protocol.Packet{}, err
	}
	if t.log != nil {
		t.log.Packet("RECV", p)
	}
	return p, nil
}

// DefaultLocalPort and DefaultRemotePort mirror the protocol's fixed port,
// exposed so callers that skip config.ClientConfig still get the right
// default.
const (
	DefaultLocalPort  = config.LocalPort
	DefaultRemotePort = config.RemotePort
)
