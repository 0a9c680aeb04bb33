// Package handshake implements the SYN exchange that agrees on a nonzero
// conn_id before bulk transfer begins, per spec.md §4.3: up to 20 SYN
// retries at a 100ms deadline each, concurrent with a receiver goroutine
// cancelled once a valid response arrives, falling back to a single RST
// and HandshakeFailed on exhaustion.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"robotudp/internal/config"
	"robotudp/internal/diagnostics"
	"robotudp/internal/metrics"
	"robotudp/internal/protocol"
	"robotudp/internal/transport"
)

// ErrHandshakeFailed is returned once HandshakeRetries SYNs have gone
// unanswered and a single RST has been emitted.
var ErrHandshakeFailed = errors.New("handshake: exhausted retries, connection reset")

// State names the handshake's four-state machine, carried on Result for
// logging/metrics only — callers never branch on it directly.
type State int

const (
	StateIdle State = iota
	StateHandshaking
	StateEstablished
	StateResetAborted
)

// Result is what a successful or failed handshake attempt reports.
type Result struct {
	ConnID uint32
	State  State
}

// Perform runs the handshake over t for the given direction, returning the
// adopted conn_id on success.
func Perform(ctx context.Context, t *transport.Transport, dir protocol.Direction, cfg config.ClientConfig, log *diagnostics.Logger, m *metrics.Registry) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		connID uint32
	)

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			p, err := t.Recv(cfg.HandshakeTimeout)
			if err != nil {
				continue
			}
			if protocol.IsValidInitialResponse(p) {
				mu.Lock()
				connID = p.ConnID
				mu.Unlock()
				cancel()
				return
			}
		}
	}()

	syn := protocol.Initial(dir)
	for retries := 0; retries < cfg.HandshakeRetries; retries++ {
		select {
		case <-ctx.Done():
			goto done
		default:
		}
		t.Send(syn)
		if retries > 0 && m != nil {
			m.HandshakeRetries.Inc()
		}
		timer := time.NewTimer(cfg.HandshakeTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			goto done
		case <-timer.C:
		}
	}

done:
	cancel() // stop the receiver even when the retries ran out unanswered
	<-recvDone
	mu.Lock()
	id := connID
	mu.Unlock()

	if id != 0 {
		if log != nil {
			log.Banner(fmt.Sprintf("HANDSHAKE ESTABLISHED connId=%d", id))
		}
		return Result{ConnID: id, State: StateEstablished}, nil
	}

	t.Send(protocol.Rst(0))
	if log != nil {
		log.Banner("HANDSHAKE FAILED")
	}
	return Result{State: StateResetAborted}, ErrHandshakeFailed
}
