package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"robotudp/internal/config"
	"robotudp/internal/diagnostics"
	"robotudp/internal/metrics"
	"robotudp/internal/modedriver"
	"robotudp/internal/session"
)

func main() {
	metricsAddr := flag.String("metrics-addr", "", "address to expose Prometheus metrics on (e.g. :9100); empty disables it")
	cfgFile := flag.String("config", "", "optional ini file overriding protocol timing defaults")
	output := flag.String("o", "", "download output path (defaults to foto.png)")
	flag.Parse()

	args := flag.Args()

	var mode session.Mode
	var host, filePath string
	switch len(args) {
	case 1:
		mode = session.ModeDownload
		host = args[0]
	case 2:
		mode = session.ModeUpload
		host, filePath = args[0], args[1]
	default:
		fmt.Println("Usage:")
		fmt.Println("  robotclient <host>              # download foto.png from the robot")
		fmt.Println("  robotclient <host> <file>       # upload <file> to the robot")
		return
	}

	cfg, err := config.LoadFile(config.Default(), *cfgFile)
	if err != nil {
		errLog := diagnostics.NewErr()
		fmt.Fprintln(os.Stderr, errLog.Fatal(err))
		os.Exit(1)
	}

	cfg.Host = host
	cfg.FilePath = filePath
	if *output != "" {
		cfg.OutputPath = *output
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	if err := config.ValidateHost(cfg.Host); err != nil {
		errLog := diagnostics.NewErr()
		fmt.Fprintln(os.Stderr, errLog.Fatal(err))
		os.Exit(1)
	}

	log := diagnostics.NewDefault()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Warn("metrics server stopped: %v", err)
			}
		}()
	}

	log.Info("starting %s to %s", mode, cfg.Host)
	if err := modedriver.Run(ctx, mode, cfg, log, m); err != nil {
		errLog := diagnostics.NewErr()
		fmt.Fprintln(os.Stderr, errLog.Fatal(err))
		os.Exit(1)
	}
	log.Info("transfer complete")
}
