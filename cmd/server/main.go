package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/GoCodeAlone/hookrelay"
)

var (
	host         = flag.String("host", "0.0.0.0", "Listen address")
	port         = flag.Int("port", 8080, "Listen port")
	configFile   = flag.String("config", "config/webhook_config.json", "Path to gateway configuration JSON file")
	logLevel     = flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARNING, ERROR, CRITICAL)")
	otlpEndpoint = flag.String("otlp-endpoint", "", "OTLP HTTP endpoint for trace export (empty disables tracing)")
	watchConfig  = flag.Bool("watch-config", false, "Rebind routes when the config file changes on disk")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	}))

	address := net.JoinHostPort(*host, strconv.Itoa(*port))
	logger.Info("starting webhook forwarding gateway",
		"address", address,
		"config", *configFile,
		"log_level", *logLevel)

	engine := hookrelay.New(logger, hookrelay.Options{
		Address:      address,
		ConfigPath:   *configFile,
		WatchConfig:  *watchConfig,
		OTLPEndpoint: *otlpEndpoint,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()

	if err := engine.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	logger.Info("shutdown complete")
}

// parseLogLevel maps the CLI level names onto slog levels. CRITICAL comes
// out above ERROR so it survives error-level filtering.
func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "CRITICAL":
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}
