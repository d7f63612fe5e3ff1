package router

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HatiCode/snaprotate/pkg/rotation"
)

type fakeStatus struct {
	report rotation.Report
	ok     bool
}

func (f *fakeStatus) LastReport() (rotation.Report, bool) { return f.report, f.ok }

func newTestHandler(status StatusSource, health func() error) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("snaprotate_runs_total 1\n"))
	})
	return SetupRoutes(status, metrics, health, logger)
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		health func() error
		want   int
	}{
		{name: "nil check", health: nil, want: http.StatusOK},
		{name: "passing check", health: func() error { return nil }, want: http.StatusOK},
		{name: "failing check", health: func() error { return errors.New("redis down") }, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeStatus{}, tt.health)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if w.Code != tt.want {
				t.Errorf("status code = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(&fakeStatus{}, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "snaprotate_runs_total") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestStatusEndpoint_NoRunYet(t *testing.T) {
	h := newTestHandler(&fakeStatus{}, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestStatusEndpoint(t *testing.T) {
	now := time.Date(2024, 3, 15, 2, 0, 0, 0, time.UTC)
	status := &fakeStatus{
		ok: true,
		report: rotation.Report{
			Now:      now,
			Created:  1,
			Deleted:  2,
			Retained: map[string]int{"daily": 5},
			Instances: []rotation.InstanceResult{
				{Instance: "web", Created: "web-1710468000000-autosnap", Deleted: []string{"web-1-autosnap"}},
			},
		},
	}
	h := newTestHandler(status, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got rotation.Report
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Now.Equal(now) || got.Created != 1 || got.Deleted != 2 || got.Retained["daily"] != 5 {
		t.Errorf("report = %+v", got)
	}
	if len(got.Instances) != 1 || got.Instances[0].Instance != "web" {
		t.Errorf("instances = %+v", got.Instances)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(&fakeStatus{ok: true}, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/status", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}
