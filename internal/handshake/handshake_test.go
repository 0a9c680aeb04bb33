package handshake_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotudp/internal/config"
	"robotudp/internal/diagnostics"
	"robotudp/internal/handshake"
	"robotudp/internal/metrics"
	"robotudp/internal/protocol"
	"robotudp/internal/transport"
)

func testConfig(t *testing.T, remotePort int) config.ClientConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.RemotePort = remotePort
	cfg.LocalPort = 0
	cfg.HandshakeTimeout = 20 * time.Millisecond
	cfg.HandshakeRetries = 20
	return cfg
}

// fakePeer answers the Nth and later SYNs with a valid handshake response,
// dropping every SYN before that — exercising the retry-then-success path.
func fakePeer(t *testing.T, dropFirst int) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	go func() {
		seen := 0
		buf := make([]byte, protocol.MaxDatagram)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			p, err := protocol.Decode(buf[:n])
			if err != nil || p.Flag != protocol.FlagSYN {
				continue
			}
			seen++
			if seen <= dropFirst {
				continue
			}
			resp := protocol.Packet{ConnID: 42, Seq: 0, Ack: 0, Flag: protocol.FlagSYN, Data: []byte{byte(protocol.DirDownload)}}
			conn.WriteToUDP(resp.Encode(), addr)
		}
	}()

	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func TestPerformRetriesThenSucceeds(t *testing.T) {
	peer, port := fakePeer(t, 2)
	defer peer.Close()

	cfg := testConfig(t, port)
	tr, err := transport.Dial(cfg.Host, cfg.RemotePort, cfg.LocalPort, nil)
	require.NoError(t, err)
	defer tr.Close()

	m := metrics.New()
	result, err := handshake.Perform(context.Background(), tr, protocol.DirDownload, cfg, diagnostics.New(nopWriter{}), m)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), result.ConnID)
	assert.Equal(t, handshake.StateEstablished, result.State)
}

func TestPerformExhaustsRetriesAndResets(t *testing.T) {
	// a peer that reads every datagram but never answers
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer conn.Close()
	go func() {
		buf := make([]byte, protocol.MaxDatagram)
		for {
			if _, _, err := conn.ReadFromUDP(buf); err != nil {
				return
			}
		}
	}()

	cfg := testConfig(t, conn.LocalAddr().(*net.UDPAddr).Port)
	cfg.HandshakeRetries = 5
	tr, err := transport.Dial(cfg.Host, cfg.RemotePort, cfg.LocalPort, nil)
	require.NoError(t, err)
	defer tr.Close()

	result, err := handshake.Perform(context.Background(), tr, protocol.DirDownload, cfg, diagnostics.New(nopWriter{}), nil)
	require.ErrorIs(t, err, handshake.ErrHandshakeFailed)
	assert.Equal(t, handshake.StateResetAborted, result.State)
	assert.Zero(t, result.ConnID)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
