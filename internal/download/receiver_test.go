package download

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotudp/internal/protocol"
)

func dataPacket(seq uint16, payload []byte) protocol.Packet {
	return protocol.Packet{ConnID: 1, Seq: seq, Flag: protocol.FlagEmpty, Data: payload}
}

func TestReceiverAssemblesInOrderStream(t *testing.T) {
	r := NewReceiver()
	var out bytes.Buffer

	for i, payload := range [][]byte{[]byte("AAA"), []byte("BBB"), []byte("CCC")} {
		p := dataPacket(uint16(i*3), payload)
		r.accept(p)
		_, err := r.drain(&out)
		require.NoError(t, err)
	}
	assert.Equal(t, "AAABBBCCC", out.String())
	assert.Equal(t, uint32(9), r.Written())
}

func TestReceiverReordersWithinWindow(t *testing.T) {
	r := NewReceiver()
	var out bytes.Buffer

	// arrive out of order: 2, 0, 1 (full-size chunks MaxPayload apart, last one short)
	chunks := [][]byte{
		bytes.Repeat([]byte("A"), protocol.MaxPayload),
		bytes.Repeat([]byte("B"), protocol.MaxPayload),
		[]byte("CC"),
	}
	order := []int{2, 0, 1}
	for _, idx := range order {
		p := dataPacket(uint16(idx*protocol.MaxPayload), chunks[idx])
		r.accept(p)
		n, err := r.drain(&out)
		require.NoError(t, err)
		_ = n
	}
	assert.Equal(t, string(bytes.Join(chunks, nil)), out.String())
}

func TestReceiverDropsDuplicateArrival(t *testing.T) {
	r := NewReceiver()
	var out bytes.Buffer

	p := dataPacket(0, []byte("AA"))
	assert.True(t, r.accept(p))
	assert.False(t, r.accept(p)) // slot already filled

	n, err := r.drain(&out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "AA", out.String())
}

func TestReceiverHandlesSeqWrapBoundary(t *testing.T) {
	r := NewReceiver()
	r.written = 65025 // within one lap of the 16-bit wire seq wrapping

	var out bytes.Buffer
	// seqs as they'd arrive crossing the 65536 wrap: 65025, 65280, 65535, 254
	chunks := map[uint16][]byte{
		65025: bytes.Repeat([]byte{0xAA}, 255),
		65280: bytes.Repeat([]byte{0xBB}, 255),
		65535: bytes.Repeat([]byte{0xCC}, 255),
		254:   bytes.Repeat([]byte{0xDD}, 251),
	}
	for _, seq := range []uint16{65025, 65280, 65535, 254} {
		r.accept(dataPacket(seq, chunks[seq]))
	}
	n, err := r.drain(&out)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 65025+255+255+255+251, int(r.Written()))
}

func TestReceiverIgnoresOutOfWindowArrival(t *testing.T) {
	r := NewReceiver()
	// far beyond the 8-slot window from written=0
	far := dataPacket(uint16(protocol.WindowSize*protocol.MaxPayload), []byte("X"))
	assert.False(t, r.accept(far))
}
