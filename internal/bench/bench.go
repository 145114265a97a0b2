// Package bench provides an HTTP load generator for exercising the serving
// engine: fixed worker count, keep-alive or close-per-request connections,
// and latency percentile reporting.
package bench

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds load generator configuration.
type Config struct {
	URL         string
	Method      string
	Body        []byte
	ContentType string
	Duration    time.Duration
	Connections int
	Workers     int
	WarmupTime  time.Duration
	KeepAlive   bool
}

// DefaultConfig returns sensible defaults for a local engine run.
func DefaultConfig() Config {
	return Config{
		Method:      "GET",
		Duration:    10 * time.Second,
		Connections: 64,
		Workers:     8,
		WarmupTime:  time.Second,
		KeepAlive:   true,
	}
}

// Runner drives load against one engine endpoint.
type Runner struct {
	config Config
	client *http.Client

	requests  atomic.Int64
	errors    atomic.Int64
	bytesRead atomic.Int64

	latencies *LatencyRecorder

	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Runner with the given configuration.
func New(cfg Config) *Runner {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.Connections,
		MaxIdleConnsPerHost: cfg.Connections,
		MaxConnsPerHost:     cfg.Connections,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.KeepAlive,
	}

	return &Runner{
		config: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
		latencies: NewLatencyRecorder(),
	}
}

// Run executes the load phase (after an optional warmup) and returns the
// measured result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.config.WarmupTime > 0 {
		r.warmup(ctx)
	}

	r.requests.Store(0)
	r.errors.Store(0)
	r.bytesRead.Store(0)
	r.latencies.Reset()

	r.running.Store(true)
	start := time.Now()

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}

	select {
	case <-ctx.Done():
	case <-time.After(r.config.Duration):
	}

	r.running.Store(false)
	r.wg.Wait()

	return r.buildResult(time.Since(start)), nil
}

func (r *Runner) warmup(ctx context.Context) {
	warmupCtx, cancel := context.WithTimeout(ctx, r.config.WarmupTime)
	defer cancel()

	r.running.Store(true)
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(warmupCtx)
	}
	<-warmupCtx.Done()
	r.running.Store(false)
	r.wg.Wait()
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()

	for r.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		n, err := r.doRequest(ctx)
		latency := time.Since(start)

		if err != nil {
			r.errors.Add(1)
		} else {
			r.requests.Add(1)
			r.bytesRead.Add(int64(n))
			r.latencies.Record(latency)
		}
	}
}

func (r *Runner) doRequest(ctx context.Context) (int, error) {
	var body io.Reader
	if len(r.config.Body) > 0 {
		body = bytes.NewReader(r.config.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.config.Method, r.config.URL, body)
	if err != nil {
		return 0, err
	}
	// The engine rejects chunked transfer; always declare the length.
	if len(r.config.Body) > 0 {
		req.ContentLength = int64(len(r.config.Body))
	}
	if r.config.ContentType != "" {
		req.Header.Set("Content-Type", r.config.ContentType)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	n, _ := io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return int(n), fmt.Errorf("status %d", resp.StatusCode)
	}
	return int(n), nil
}

func (r *Runner) buildResult(elapsed time.Duration) *Result {
	reqs := r.requests.Load()
	return &Result{
		Requests:       reqs,
		Errors:         r.errors.Load(),
		Duration:       elapsed,
		RequestsPerSec: float64(reqs) / elapsed.Seconds(),
		ThroughputBPS:  float64(r.bytesRead.Load()) / elapsed.Seconds(),
		Latency:        r.latencies.Percentiles(),
	}
}
