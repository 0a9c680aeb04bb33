package upload

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotudp/internal/config"
	"robotudp/internal/protocol"
	"robotudp/internal/transport"
)

func TestRefillWindowFillsUpToWindowSizeThenStopsAtEOF(t *testing.T) {
	cfg := config.Default()
	cfg.WindowSize = 3
	cfg.ChunkSize = 4

	data := bytes.Repeat([]byte("X"), 10) // chunks of 4, 4 and 2, then eof
	s := NewSender(bytes.NewReader(data))

	require.NoError(t, s.refillWindow(cfg))
	assert.Len(t, s.window, 3)
	assert.Equal(t, 4, len(s.window[0].data))
	assert.Equal(t, 2, len(s.window[2].data)) // last chunk short
	assert.True(t, s.eof)
}

func TestAckHandlerSlidesWindowOnChunkBoundaryAck(t *testing.T) {
	cfg := config.Default()
	cfg.WindowSize = 8
	cfg.ChunkSize = 4

	s := NewSender(bytes.NewReader(bytes.Repeat([]byte("Y"), 16)))
	require.NoError(t, s.refillWindow(cfg))
	require.Len(t, s.window, 4)

	// ack advancing exactly one chunk
	s.ackHandler(protocol.Packet{Ack: 4}, cfg, nil)
	assert.Equal(t, uint32(4), s.requestedSeq)
	assert.Len(t, s.window, 3)
}

func TestAckHandlerIgnoresStaleAck(t *testing.T) {
	cfg := config.Default()
	s := NewSender(bytes.NewReader(bytes.Repeat([]byte("Z"), 8)))
	require.NoError(t, s.refillWindow(cfg))
	s.ackHandler(protocol.Packet{Ack: 4}, cfg, nil)
	before := len(s.window)
	s.ackHandler(protocol.Packet{Ack: 0}, cfg, nil) // stale relative to requestedSeq=4
	assert.Equal(t, before, len(s.window))
}

func TestSendWindowReportsStuckAfterRepeatedIdenticalResends(t *testing.T) {
	cfg := config.Default()
	cfg.WindowSize = 1
	cfg.ChunkSize = 4
	cfg.StuckLimit = 3

	s := NewSender(bytes.NewReader([]byte("abcd")))
	require.NoError(t, s.refillWindow(cfg))

	tr, err := transport.Dial("127.0.0.1", 1, 0, nil)
	require.NoError(t, err)
	defer tr.Close()

	for i := 0; i < cfg.StuckLimit-1; i++ {
		assert.True(t, s.sendWindow(tr, 7, cfg, nil))
	}
	assert.False(t, s.sendWindow(tr, 7, cfg, nil))
}
