// Package download implements the receive-side sliding window (FileReceiver)
// of spec.md §4.5: an 8-slot reorder buffer that assembles a contiguous
// byte stream from potentially duplicated or out-of-order datagrams, drains
// completed prefixes to the output file, and answers with cumulative acks
// until FIN.
package download

import (
	"errors"
	"io"

	"robotudp/internal/config"
	"robotudp/internal/diagnostics"
	"robotudp/internal/metrics"
	"robotudp/internal/protocol"
	"robotudp/internal/session"
	"robotudp/internal/transport"
)

// Receiver holds the 8-slot reorder window and the cumulative write
// position for one download.
type Receiver struct {
	slots   [protocol.WindowSize][]byte
	written uint32
}

// NewReceiver builds an empty receive window.
func NewReceiver() *Receiver { return &Receiver{} }

// Written returns the cumulative number of bytes flushed to the output so
// far — the receive window's reference point.
func (r *Receiver) Written() uint32 { return r.written }

// accept stores p's payload at its computed slot if the slot is empty and
// in range; duplicate or out-of-window arrivals are discarded. It returns
// true if the packet advanced the window in any way (stored, even before
// draining).
func (r *Receiver) accept(p protocol.Packet) bool {
	if len(p.Data) == 0 || len(p.Data) > protocol.MaxPayload {
		return false
	}
	idx := protocol.SlotIndex(r.written, p.Seq)
	if idx < 0 || idx >= protocol.WindowSize {
		return false
	}
	if r.slots[idx] != nil {
		return false
	}
	r.slots[idx] = append([]byte(nil), p.Data...)
	return true
}

// drain writes every contiguous filled prefix (starting at slot 0) to out,
// advancing written and sliding the window left, returning the number of
// slots drained.
func (r *Receiver) drain(out io.Writer) (int, error) {
	slid := 0
	for r.slots[0] != nil {
		chunk := r.slots[0]
		if _, err := out.Write(chunk); err != nil {
			return slid, err
		}
		r.written += uint32(len(chunk))
		copy(r.slots[:], r.slots[1:])
		r.slots[protocol.WindowSize-1] = nil
		slid++
	}
	return slid, nil
}

// Run executes the single-threaded download loop of spec.md §4.5/§5: block
// on receive, process, send, repeat — until FIN is received for conn, at
// which point a single FIN echo is sent and the loop exits.
func Run(t *transport.Transport, conn *session.Connection, out io.Writer, cfg config.ClientConfig, log *diagnostics.Logger, m *metrics.Registry) error {
	r := NewReceiver()
	connID := conn.ConnID()

	if log != nil {
		log.Banner("DOWNLOADING STARTED")
	}

	for {
		p, err := t.Recv(0)
		if err != nil {
			if err == transport.ErrTimeout {
				if m != nil {
					m.Timeouts.Inc()
				}
				continue
			}
			if errors.Is(err, protocol.ErrMalformedPacket) {
				// a single garbled datagram is discarded, never fatal —
				// spec.md §7.
				continue
			}
			return err
		}
		if p.ConnID != connID {
			continue
		}
		if m != nil {
			m.PacketsReceived.WithLabelValues(p.Flag.String()).Inc()
		}

		if p.Flag == protocol.FlagFIN {
			t.Send(protocol.Fin(connID, p.Seq, protocol.DirDownload))
			conn.Close()
			if log != nil {
				log.Banner("DOWNLOADING FINISHED")
			}
			return nil
		}

		if p.Flag == protocol.FlagEmpty {
			if r.accept(p) && m != nil {
				m.BytesReceived.Add(float64(len(p.Data)))
			}
			slid, err := r.drain(out)
			if err != nil {
				return err
			}
			if slid > 0 && m != nil {
				m.WindowSlides.Add(float64(slid))
			}
			t.Send(protocol.Ack(connID, protocol.LowerSeq(r.Written())))
		}
	}
}
