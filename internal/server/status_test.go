package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brandloom-ai/brandloom/internal/eventbus"
	"github.com/brandloom-ai/brandloom/internal/observability"
	"github.com/brandloom-ai/brandloom/internal/server"
	"github.com/brandloom-ai/brandloom/internal/session"
)

func TestStatusEndpoints(t *testing.T) {
	bus := eventbus.New()
	counter := observability.NewEventCounter()
	bus.RegisterObserver(counter)
	registry := session.NewRegistry(bus)
	srv := server.New(server.Config{Registry: registry, Factory: func() (session.Dialer, session.Decider) {
		return nil, noopDecider{}
	}})

	mux := http.NewServeMux()
	srv.Routes(mux, server.StatusDeps{
		Version:   "1.2.3",
		StartTime: time.Now().Add(-time.Minute),
		Bus:       bus,
		Events:    counter,
		Exporter:  observability.NewPrometheusExporter(bus, counter),
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/statusz")
	if err != nil {
		t.Fatalf("statusz: %v", err)
	}
	defer resp.Body.Close()
	var status struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Uptime  string `json:"uptime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode statusz: %v", err)
	}
	if status.Status != "ok" || status.Version != "1.2.3" {
		t.Fatalf("unexpected statusz payload: %+v", status)
	}
	if status.Uptime == "" {
		t.Fatal("statusz missing uptime")
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "brandloom_bus_published_total") {
		t.Fatalf("metrics output missing bus counters:\n%s", body)
	}
}
