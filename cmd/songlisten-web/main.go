package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/logger"
	"songlisten/internal/pipeline"
	"songlisten/internal/web"
)

func main() {
	var (
		addr       string
		configPath string
	)

	flag.StringVar(&addr, "addr", "", "Listen address (overrides web_addr from config)")
	flag.StringVar(&configPath, "config", "", "Config file path")
	flag.Parse()

	cfg, err := config.LoadConfigFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if addr == "" {
		addr = cfg.WebAddr
	}

	// Setup logger with file logging
	l := logger.New(cfg.Verbose)
	logDir := config.GetDefaultLogPath()
	if err := os.MkdirAll(logDir, 0755); err == nil {
		logPath := filepath.Join(logDir, fmt.Sprintf("songlisten-web-%d.log", time.Now().Unix()))
		if err := l.SetFileLog(logPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to setup file logging: %v\n", err)
		}
	}
	defer l.Close()

	store, err := cache.Open(cfg.CacheDir, l)
	if err != nil {
		l.Error("Failed to open cache: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	// Jobs inherit this context; shutting the server down cancels any
	// in-flight listens.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe := pipeline.Assemble(store, l, cfg)

	jobMgr := web.NewJobManager()
	jobMgr.StartCleanup(ctx)
	server := web.NewServer(ctx, pipe, jobMgr, cfg, l)

	// HTTP server
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		l.Info("Starting web server on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("Server error: %v", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	l.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		l.Error("Server shutdown error: %v", err)
	}

	l.Info("Server stopped")
}
