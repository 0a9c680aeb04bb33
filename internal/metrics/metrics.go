// Package metrics instruments the reliability engine with Prometheus
// counters: handshake retries, packets and bytes by direction,
// retransmissions and window slides. Instrumentation is an ambient
// observability concern, not a protocol feature, so it applies regardless
// of spec.md's congestion/flow-control Non-goals (see DESIGN.md).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the counters one client run reports.
type Registry struct {
	reg *prometheus.Registry

	HandshakeRetries prometheus.Counter
	PacketsSent      *prometheus.CounterVec
	PacketsReceived  *prometheus.CounterVec
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	Retransmissions  prometheus.Counter
	WindowSlides     prometheus.Counter
	Timeouts         prometheus.Counter
}

// New builds a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		HandshakeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robotudp_handshake_retries_total",
			Help: "Number of SYN retries sent during the handshake.",
		}),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robotudp_packets_sent_total",
			Help: "Packets sent, labeled by flag.",
		}, []string{"flag"}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robotudp_packets_received_total",
			Help: "Packets received, labeled by flag.",
		}, []string{"flag"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robotudp_bytes_sent_total",
			Help: "Payload bytes sent.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robotudp_bytes_received_total",
			Help: "Payload bytes received and accepted into the window.",
		}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robotudp_retransmissions_total",
			Help: "Data packets resent by the sender's go-back-N timeout retransmit.",
		}),
		WindowSlides: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robotudp_window_slides_total",
			Help: "Times the send or receive window advanced.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robotudp_timeouts_total",
			Help: "Receive-deadline timeouts observed.",
		}),
	}
	reg.MustRegister(r.HandshakeRetries, r.PacketsSent, r.PacketsReceived,
		r.BytesSent, r.BytesReceived, r.Retransmissions, r.WindowSlides, r.Timeouts)
	return r
}

// Serve starts a promhttp listener on addr for the lifetime of ctx. Callers
// that leave MetricsAddr unset never call this — metrics are still
// collected, just not exported.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
