// Package modedriver sequences one client run end to end: dial, handshake,
// dispatch to the download or upload loop, and teardown on every exit
// path, per spec.md §5's top-level state machine. Adapted from the
// teacher's clientudp.transferOnce orchestration.
package modedriver

import (
	"context"
	"fmt"
	"net"
	"os"

	"robotudp/internal/config"
	"robotudp/internal/diagnostics"
	"robotudp/internal/download"
	"robotudp/internal/handshake"
	"robotudp/internal/metrics"
	"robotudp/internal/protocol"
	"robotudp/internal/session"
	"robotudp/internal/transport"
	"robotudp/internal/upload"
)

// Run dials the server, performs the handshake, runs the selected
// transfer, and closes every resource it opened, on every exit path.
func Run(ctx context.Context, mode session.Mode, cfg config.ClientConfig, log *diagnostics.Logger, m *metrics.Registry) error {
	t, err := transport.Dial(cfg.Host, cfg.RemotePort, cfg.LocalPort, log)
	if err != nil {
		return fmt.Errorf("modedriver: %w", err)
	}
	defer t.Close()
	t.SetMetrics(m)

	conn := session.New(&net.UDPAddr{}, mode)

	dir := protocol.DirDownload
	if mode == session.ModeUpload {
		dir = protocol.DirUpload
	}

	result, err := handshake.Perform(ctx, t, dir, cfg, log, m)
	if err != nil {
		return err
	}
	conn.SetConnID(result.ConnID)

	switch mode {
	case session.ModeDownload:
		return runDownload(t, conn, cfg, log, m)
	case session.ModeUpload:
		return runUpload(ctx, t, conn, cfg, log, m)
	default:
		return fmt.Errorf("modedriver: unknown mode %v", mode)
	}
}

func runDownload(t *transport.Transport, conn *session.Connection, cfg config.ClientConfig, log *diagnostics.Logger, m *metrics.Registry) error {
	out, err := os.Create(cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("modedriver: creating output %s: %w", cfg.OutputPath, err)
	}
	defer out.Close()

	if err := download.Run(t, conn, out, cfg, log, m); err != nil {
		return fmt.Errorf("modedriver: download: %w", err)
	}
	return nil
}

func runUpload(ctx context.Context, t *transport.Transport, conn *session.Connection, cfg config.ClientConfig, log *diagnostics.Logger, m *metrics.Registry) error {
	in, err := os.Open(cfg.FilePath)
	if err != nil {
		return fmt.Errorf("modedriver: opening input %s: %w", cfg.FilePath, err)
	}
	defer in.Close()

	if err := upload.Run(ctx, t, conn, in, cfg, log, m); err != nil {
		return fmt.Errorf("modedriver: upload: %w", err)
	}
	return nil
}
