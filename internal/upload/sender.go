// Package upload implements the send-side sliding window (FileSender) of
// spec.md §4.6: a FIFO of up to 8 chunks read ahead from the input file,
// emitted as a contiguous burst, go-back-N retransmitted on a 100ms
// timeout, and slid forward on cumulative acks, running two cooperating
// goroutines against one mutex-guarded window per spec.md §5.
package upload

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"robotudp/internal/config"
	"robotudp/internal/diagnostics"
	"robotudp/internal/metrics"
	"robotudp/internal/protocol"
	"robotudp/internal/session"
	"robotudp/internal/transport"
)

// ErrStuckTransmission is returned when the same data seq has been
// (re)sent StuckLimit times in a row without any acked progress.
var ErrStuckTransmission = errors.New("upload: stuck transmission, no progress after repeated resends")

// ErrResetByPeer is returned when the server sends RST.
var ErrResetByPeer = errors.New("upload: connection reset by peer")

type chunk struct {
	offset uint32
	data   []byte
}

// Sender holds the bounded send window and the bookkeeping the ack handler
// and the retransmit ticker both mutate under mu.
type Sender struct {
	mu sync.Mutex

	window       []chunk
	requestedSeq uint32
	lastSent     time.Time
	eof          bool // refillWindow has hit EOF on the input

	in io.Reader

	lastWireSeq     uint16
	lastWireSeqReps int
}

// NewSender builds a Sender reading chunks from in.
func NewSender(in io.Reader) *Sender {
	return &Sender{in: in, lastSent: time.Now()}
}

// refillWindow reads ChunkSize-byte chunks from the input until the window
// holds WindowSize chunks or EOF. Must be called with mu held.
func (s *Sender) refillWindow(cfg config.ClientConfig) error {
	offset := s.requestedSeq
	for _, c := range s.window {
		offset = c.offset + uint32(len(c.data))
	}
	for !s.eof && len(s.window) < cfg.WindowSize {
		buf := make([]byte, cfg.ChunkSize)
		n, err := io.ReadFull(s.in, buf)
		if n > 0 {
			s.window = append(s.window, chunk{offset: offset, data: buf[:n]})
			offset += uint32(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			s.eof = true
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// sendWindow emits the whole current window as one contiguous burst
// (spec.md §5's atomicity guarantee), or a FIN if the window and input are
// both exhausted. Must be called with mu held.
func (s *Sender) sendWindow(t *transport.Transport, connID uint32, cfg config.ClientConfig, m *metrics.Registry) bool {
	if len(s.window) == 0 {
		if s.eof {
			t.Send(protocol.Fin(connID, protocol.LowerSeq(s.requestedSeq), protocol.DirUpload))
		}
		return true
	}
	wireSeq := protocol.LowerSeq(s.requestedSeq)
	if wireSeq == s.lastWireSeq {
		s.lastWireSeqReps++
	} else {
		s.lastWireSeq = wireSeq
		s.lastWireSeqReps = 1
	}

	seq := s.requestedSeq
	for _, c := range s.window {
		t.Send(protocol.Data(connID, protocol.LowerSeq(seq), c.data))
		seq += uint32(len(c.data))
		if m != nil {
			m.BytesSent.Add(float64(len(c.data)))
		}
	}
	s.lastSent = time.Now()
	return s.lastWireSeqReps < cfg.StuckLimit
}

// ackHandler processes one incoming packet, sliding the window on a valid
// cumulative ack. Must be called with mu held.
func (s *Sender) ackHandler(p protocol.Packet, cfg config.ClientConfig, m *metrics.Registry) {
	ackLog := protocol.LiftSeq(s.requestedSeq, p.Ack)
	windowEnd := s.requestedSeq
	for _, c := range s.window {
		windowEnd = c.offset + uint32(len(c.data))
	}
	// a stale ack's wire value lifts a full lap ahead, past anything sent
	if ackLog <= s.requestedSeq || ackLog > windowEnd {
		return // duplicate or stale ack
	}
	advance := ackLog - s.requestedSeq
	for advance > 0 && len(s.window) > 0 {
		head := s.window[0]
		if uint32(len(head.data)) > advance {
			break // server only acks on chunk boundaries; partial ack is unexpected, stop here
		}
		advance -= uint32(len(head.data))
		s.window = s.window[1:]
		if m != nil {
			m.WindowSlides.Inc()
		}
	}
	s.requestedSeq = ackLog
	s.lastWireSeqReps = 0
}

// Run drives the upload to completion: refills and sends the initial
// window, then runs an ack-receiver goroutine and a retransmit-ticker
// goroutine against the shared window until FIN, RST, or
// ErrStuckTransmission.
func Run(ctx context.Context, t *transport.Transport, conn *session.Connection, in io.Reader, cfg config.ClientConfig, log *diagnostics.Logger, m *metrics.Registry) error {
	s := NewSender(in)
	connID := conn.ConnID()

	s.mu.Lock()
	if err := s.refillWindow(cfg); err != nil {
		s.mu.Unlock()
		return err
	}
	s.sendWindow(t, connID, cfg, m)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() { // ack receiver
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			p, err := t.Recv(cfg.ResendTimeout)
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
				errCh <- err
				cancel()
				return
			}
			if p.ConnID != connID || !protocol.HasValidFlag(p.Flag) {
				t.Send(protocol.Rst(p.ConnID))
				continue
			}
			if m != nil {
				m.PacketsReceived.WithLabelValues(p.Flag.String()).Inc()
			}

			switch p.Flag {
			case protocol.FlagRST:
				conn.Close()
				errCh <- ErrResetByPeer
				cancel()
				return
			case protocol.FlagFIN:
				conn.Close()
				if log != nil {
					log.Banner("UPLOADING FINISHED")
				}
				errCh <- nil
				cancel()
				return
			case protocol.FlagEmpty:
				s.mu.Lock()
				before := s.requestedSeq
				s.ackHandler(p, cfg, m)
				progressed := s.requestedSeq != before
				if progressed {
					if err := s.refillWindow(cfg); err != nil {
						s.mu.Unlock()
						errCh <- err
						cancel()
						return
					}
					s.sendWindow(t, connID, cfg, m)
				}
				s.mu.Unlock()
			}
		}
	}()

	go func() { // retransmit ticker
		defer wg.Done()
		ticker := time.NewTicker(cfg.ResendTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				if conn.Closed() {
					s.mu.Unlock()
					return
				}
				if time.Since(s.lastSent) > cfg.ResendTimeout {
					if m != nil && len(s.window) > 0 {
						m.Retransmissions.Add(float64(len(s.window)))
					}
					if !s.sendWindow(t, connID, cfg, m) {
						s.mu.Unlock()
						errCh <- ErrStuckTransmission
						cancel()
						return
					}
				}
				s.mu.Unlock()
			}
		}
	}()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}
