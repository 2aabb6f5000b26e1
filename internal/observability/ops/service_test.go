package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "xiaov/pkg/logx"
)

func TestHealthzReportsChecks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		checks map[string]Check
		code   int
		status string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all ok", map[string]Check{"primary": func() error { return nil }}, http.StatusOK, "ok"},
		{"one down", map[string]Check{
			"primary": func() error { return nil },
			"shadow":  func() error { return errors.New("not connected") },
		}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(Config{}, logx.Nop(), nil, tt.checks)
			rec := httptest.NewRecorder()
			s.handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			var rep healthReport
			if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if rep.Status != tt.status {
				t.Fatalf("status = %q, want %q", rep.Status, tt.status)
			}
			if tt.status == "degraded" && rep.Checks["shadow"] != "not connected" {
				t.Fatalf("checks = %v", rep.Checks)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "xiaov_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	s := New(Config{}, logx.Nop(), reg, nil)
	rec := httptest.NewRecorder()
	s.handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "xiaov_test_total 3") {
		t.Fatalf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	cfg := Config{Token: "s3cret"}
	h := New(cfg, logx.Nop(), nil, nil).handler(cfg)

	tests := []struct {
		name   string
		target string
		header string
		code   int
	}{
		{"missing", "/healthz", "", http.StatusUnauthorized},
		{"wrong query", "/healthz?token=nope", "", http.StatusUnauthorized},
		{"query", "/healthz?token=s3cret", "", http.StatusOK},
		{"bearer", "/healthz", "Bearer s3cret", http.StatusOK},
		{"wrong bearer", "/healthz", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:80":   true,
		"[::1]:9464":     true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"10.0.0.5:9464":  false,
		"bogus":          false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func waitForAddr(ctx context.Context, s *Service) (string, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if a := s.Addr(); a != "" {
			return a, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestReconfigureEnableDisable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s := New(Config{}, logx.Nop(), nil, nil)
	t.Cleanup(func() { s.Stop(context.Background()) })

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true, MutexProfileFraction: -1, BlockProfileRate: -1})
	addr, err := waitForAddr(ctx, s)
	if err != nil {
		t.Fatalf("server never bound: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/debug/pprof/")
	if err != nil {
		t.Fatalf("pprof GET: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof status = %d", resp.StatusCode)
	}

	s.Reconfigure(ctx, Config{Enabled: false, MutexProfileFraction: -1, BlockProfileRate: -1})
	if a := s.Addr(); a != "" {
		t.Fatalf("Addr after disable = %q, want empty", a)
	}
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop(), nil, nil)
	if err := s.serveOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "insecure") {
		t.Fatalf("serveOnce error = %v, want insecure bind refusal", err)
	}
}
