package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL      string
	Profile      string
	Key          string
	Duration     time.Duration
	RPS          int
	Concurrency  int
	Fingerprints int
	FailOnError  bool

	// Client overrides the default instrumented client.
	Client *http.Client
}

type Result struct {
	Profile       string
	TotalRequests int64
	Failures      int64
	StatusClasses map[string]int64
	Elapsed       time.Duration
}

func (r Result) Summary() string {
	classes := make([]string, 0, len(r.StatusClasses))
	for class := range r.StatusClasses {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	parts := make([]string, 0, len(classes))
	for _, class := range classes {
		parts = append(parts, fmt.Sprintf("%s=%d", class, r.StatusClasses[class]))
	}
	return fmt.Sprintf("profile=%s requests=%d failures=%d elapsed=%s %s",
		r.Profile, r.TotalRequests, r.Failures, r.Elapsed.Round(time.Millisecond), strings.Join(parts, " "))
}

type request struct {
	method string
	path   string
	body   []byte
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	profile := normalizeProfile(cfg.Profile)
	switch profile {
	case "activate", "health", "mixed":
	default:
		return Result{}, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	if (profile == "activate" || profile == "mixed") && strings.TrimSpace(cfg.Key) == "" {
		return Result{}, errors.New("--key is required for the activate and mixed profiles")
	}
	if cfg.RPS <= 0 || cfg.Concurrency <= 0 || cfg.Duration <= 0 {
		return Result{}, errors.New("rps, concurrency and duration must be positive")
	}
	if cfg.Fingerprints <= 0 {
		cfg.Fingerprints = 1
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	jobs := make(chan request)
	var (
		total, failures atomic.Int64
		mu              sync.Mutex
		classes         = map[string]int64{}
	)

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for req := range jobs {
				status, err := send(gctx, client, base, req)
				if status == 0 && err == nil {
					continue
				}
				total.Add(1)
				class := classifyStatusClass(status)
				if err != nil {
					class = "error"
				}
				if err != nil || status >= 500 {
					failures.Add(1)
				}
				mu.Lock()
				classes[class]++
				mu.Unlock()
			}
			return nil
		})
	}

	start := time.Now()
	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	seq := 0
produce:
	for {
		select {
		case <-runCtx.Done():
			break produce
		case <-ticker.C:
			req := nextRequest(profile, cfg, seq)
			seq++
			select {
			case jobs <- req:
			case <-runCtx.Done():
				break produce
			}
		}
	}
	ticker.Stop()
	close(jobs)
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		Profile:       profile,
		TotalRequests: total.Load(),
		Failures:      failures.Load(),
		StatusClasses: classes,
		Elapsed:       time.Since(start),
	}, nil
}

func nextRequest(profile string, cfg Config, seq int) request {
	if profile == "health" || (profile == "mixed" && seq%4 == 3) {
		return request{method: http.MethodGet, path: "/health/live"}
	}
	body, _ := json.Marshal(map[string]string{
		"key":                cfg.Key,
		"device_fingerprint": fmt.Sprintf("loadgen-%d", seq%cfg.Fingerprints),
	})
	return request{method: http.MethodPost, path: "/api/v1/activate", body: body}
}

func send(ctx context.Context, client *http.Client, base string, r request) (int, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, base+r.path, body)
	if err != nil {
		return 0, err
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		// The run deadline cutting off in-flight requests is not a failure.
		if ctx.Err() != nil {
			return 0, nil
		}
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return "mixed"
	}
	return p
}
