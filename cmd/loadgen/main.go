// Package main provides the load generator CLI for the serving engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/goceleris/celeris/internal/bench"
)

// scenarios are the canned request shapes the engine serves.
var scenarios = map[string]struct {
	method      string
	path        string
	body        string
	contentType string
}{
	"index":   {"GET", "/", "", ""},
	"static":  {"GET", "/index.html", "", ""},
	"missing": {"GET", "/missing.html", "", ""},
	"login": {"POST", "/login.html", "username=bench&password=bench",
		"application/x-www-form-urlencoded"},
}

func main() {
	target := flag.String("target", "http://127.0.0.1:1316", "Engine base URL")
	scenario := flag.String("scenario", "index", "Scenario: index, static, missing, login")
	duration := flag.Duration("duration", 10*time.Second, "Load duration")
	connections := flag.Int("connections", 64, "Concurrent connections")
	workers := flag.Int("workers", 8, "Request workers")
	warmup := flag.Duration("warmup", time.Second, "Warmup before measuring")
	keepAlive := flag.Bool("keepalive", true, "Reuse connections")
	flag.Parse()

	sc, ok := scenarios[*scenario]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown scenario: %s\n", *scenario)
		os.Exit(1)
	}

	cfg := bench.Config{
		URL:         *target + sc.path,
		Method:      sc.method,
		Body:        []byte(sc.body),
		ContentType: sc.contentType,
		Duration:    *duration,
		Connections: *connections,
		Workers:     *workers,
		WarmupTime:  *warmup,
		KeepAlive:   *keepAlive,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("running %s against %s for %v", *scenario, cfg.URL, *duration)
	result, err := bench.New(cfg).Run(ctx)
	if err != nil {
		log.Fatalf("load run failed: %v", err)
	}
	fmt.Println(result)
}
