// Command adsrouterd is the thin process wiring config -> Router ->
// admin surface that spec.md's "host process" assumption stands in
// for. It provisions static routes and ports from a YAML config, then
// serves the read-only adsadmin HTTP/WebSocket surface until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adscore/adsrouter/adsadmin"
	"github.com/adscore/adsrouter/adsconfig"
	"github.com/adscore/adsrouter/router"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "adsrouterd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = flag.String("config", "routes.yaml", "path to the YAML route/port configuration")
		writeExample = flag.Bool("write-example-config", false, "write a starter config to -config and exit")
	)
	flag.Parse()

	if *writeExample {
		if err := adsconfig.SaveExample(*configPath); err != nil {
			return err
		}
		fmt.Println("wrote", *configPath)
		return nil
	}

	cfg, err := adsconfig.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := newSlogLogger(cfg.Logging)

	opts := []router.Option{
		router.WithLogger(router.NewSlogLogger(logger)),
		router.WithMetrics(router.NewInMemoryMetrics()),
	}
	if cfg.Local.NetID != "" {
		netId, err := router.ParseAmsNetId(cfg.Local.NetID)
		if err != nil {
			return err
		}
		opts = append(opts, router.WithLocalNetId(netId))
	}

	rt := router.New(opts...)
	defer rt.Close()

	provisioned, err := adsconfig.Apply(rt, cfg)
	if err != nil {
		return err
	}
	for _, p := range provisioned {
		logger.Info("provisioned local port", "name", p.Name, "port", int(p.Port))
	}
	for _, route := range rt.Routes() {
		logger.Info("provisioned route", "net_id", route.NetId.String(), "ip", route.IP.String())
	}

	admin := adsadmin.NewServer(rt, cfg)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin surface listening", "addr", cfg.Address())
		if err := admin.Start(); err != nil {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return admin.Shutdown(shutdownCtx)
}

func newSlogLogger(cfg adsconfig.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
