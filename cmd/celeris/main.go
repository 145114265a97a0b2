//go:build linux

// Package main provides the entry point for the celeris serving engine.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goceleris/celeris/internal/auth"
	"github.com/goceleris/celeris/internal/logging"
	"github.com/goceleris/celeris/internal/server"
)

func main() {
	port := flag.Int("port", envInt("CELERIS_PORT", 1316), "Port to listen on")
	root := flag.String("root", getEnvOrDefault("CELERIS_ROOT", "./resources"), "Document root for static files")
	trig := flag.Int("trig", 3, "Trigger mode: 0 LT/LT, 1 LT/ET, 2 ET/LT, 3 ET/ET")
	timeout := flag.Duration("timeout", time.Minute, "Idle connection timeout (0 disables)")
	workers := flag.Int("workers", 8, "Worker pool size")
	maxConns := flag.Int("max-conns", 65536, "Connection table capacity")
	linger := flag.Bool("linger", false, "Enable SO_LINGER with a 1s timeout")

	dsn := flag.String("mysql-dsn", os.Getenv("CELERIS_MYSQL_DSN"), "MySQL DSN for the user store (empty: use -data-dir)")
	sqlPool := flag.Int("sql-pool", 8, "MySQL connection pool size")
	dataDir := flag.String("data-dir", getEnvOrDefault("CELERIS_DATA_DIR", ""), "Embedded user store directory (empty disables auth)")

	logDir := flag.String("log-dir", getEnvOrDefault("CELERIS_LOG_DIR", ""), "Log directory (empty: stderr)")
	logLevel := flag.String("log-level", getEnvOrDefault("CELERIS_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	logAsync := flag.Bool("log-async", false, "Buffer log writes in memory")
	flag.Parse()

	log, flush, err := logging.New(logging.Config{
		Level: *logLevel,
		Dir:   *logDir,
		Async: *logAsync,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	var store auth.Store
	switch {
	case *dsn != "":
		store, err = auth.OpenSQL(*dsn, *sqlPool)
		if err != nil {
			log.Fatalf("mysql store: %v", err)
		}
	case *dataDir != "":
		store, err = auth.OpenBadger(*dataDir)
		if err != nil {
			log.Fatalf("embedded store: %v", err)
		}
	default:
		log.Warn("no user store configured; login and register are disabled")
	}
	if store != nil {
		defer store.Close()
	}

	srv, err := server.New(server.Config{
		Port:     *port,
		Root:     *root,
		TrigMode: *trig,
		Timeout:  *timeout,
		Workers:  *workers,
		MaxConns: *maxConns,
		Linger:   *linger,
	}, log, store)
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		srv.Shutdown()
	}()

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
