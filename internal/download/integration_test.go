package download_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotudp/internal/config"
	"robotudp/internal/diagnostics"
	"robotudp/internal/download"
	"robotudp/internal/handshake"
	"robotudp/internal/protocol"
	"robotudp/internal/robotsim"
	"robotudp/internal/session"
	"robotudp/internal/transport"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestDownloadEndToEndAgainstSimulatedRobot(t *testing.T) {
	payload := bytes.Repeat([]byte("robot-photo-data-"), 100) // spans several 255-byte chunks

	srv := robotsim.New()
	srv.DownloadData = payload
	addr, err := srv.Start("127.0.0.1", 0)
	require.NoError(t, err)
	defer srv.Stop()

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.RemotePort = addr.Port
	cfg.LocalPort = 0
	cfg.HandshakeTimeout = 20 * time.Millisecond
	cfg.ResendTimeout = 20 * time.Millisecond

	log := diagnostics.New(discard{})
	tr, err := transport.Dial(cfg.Host, cfg.RemotePort, cfg.LocalPort, log)
	require.NoError(t, err)
	defer tr.Close()

	result, err := handshake.Perform(context.Background(), tr, protocol.DirDownload, cfg, log, nil)
	require.NoError(t, err)

	conn := session.New(nil, session.ModeDownload)
	conn.SetConnID(result.ConnID)

	var out bytes.Buffer
	err = download.Run(tr, conn, &out, cfg, log, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, out.Bytes())
	assert.True(t, conn.Closed())
}

func TestDownloadSurvivesReorderedAndDuplicatedBursts(t *testing.T) {
	payload := bytes.Repeat([]byte("robot-photo-data-"), 100)

	srv := robotsim.New()
	srv.DownloadData = payload
	srv.DownloadFault = func(batch []protocol.Packet) []protocol.Packet {
		if len(batch) < 2 {
			return batch
		}
		// reverse the burst order and duplicate the first packet, forcing
		// the receive window to both reorder and drop a duplicate.
		reordered := make([]protocol.Packet, 0, len(batch)+1)
		for i := len(batch) - 1; i >= 0; i-- {
			reordered = append(reordered, batch[i])
		}
		reordered = append(reordered, batch[0])
		return reordered
	}
	addr, err := srv.Start("127.0.0.1", 0)
	require.NoError(t, err)
	defer srv.Stop()

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.RemotePort = addr.Port
	cfg.LocalPort = 0
	cfg.HandshakeTimeout = 20 * time.Millisecond
	cfg.ResendTimeout = 20 * time.Millisecond

	log := diagnostics.New(discard{})
	tr, err := transport.Dial(cfg.Host, cfg.RemotePort, cfg.LocalPort, log)
	require.NoError(t, err)
	defer tr.Close()

	result, err := handshake.Perform(context.Background(), tr, protocol.DirDownload, cfg, log, nil)
	require.NoError(t, err)

	conn := session.New(nil, session.ModeDownload)
	conn.SetConnID(result.ConnID)

	var out bytes.Buffer
	err = download.Run(tr, conn, &out, cfg, log, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, out.Bytes())
}
