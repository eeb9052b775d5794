package observability

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/brandloom-ai/brandloom/internal/eventbus"
)

// PrometheusExporter renders observability metrics in Prometheus text format.
type PrometheusExporter struct {
	bus      *eventbus.Bus
	counter  *EventCounter
	sessions SessionGaugeProvider
	clients  ClientGaugeProvider
}

// SessionGaugeProvider exposes the number of registered sessions.
type SessionGaugeProvider interface {
	Count() int
}

// ClientGaugeProvider exposes the number of connected websocket clients.
type ClientGaugeProvider interface {
	ClientCount() int
}

// NewPrometheusExporter constructs an exporter backed by the provided bus and event counter.
func NewPrometheusExporter(bus *eventbus.Bus, counter *EventCounter) *PrometheusExporter {
	return &PrometheusExporter{bus: bus, counter: counter}
}

// WithSessions enables exporting the active session gauge.
func (e *PrometheusExporter) WithSessions(provider SessionGaugeProvider) {
	e.sessions = provider
}

// WithClients enables exporting the connected client gauge.
func (e *PrometheusExporter) WithClients(provider ClientGaugeProvider) {
	e.clients = provider
}

// Export produces the metrics payload in Prometheus' text exposition format.
func (e *PrometheusExporter) Export() []byte {
	var buf bytes.Buffer

	e.writeEventCounters(&buf)
	e.writeBusMetrics(&buf)
	e.writeGauges(&buf)

	return buf.Bytes()
}

func (e *PrometheusExporter) writeEventCounters(buf *bytes.Buffer) {
	if e.counter == nil {
		return
	}
	snapshot := e.counter.Snapshot()
	topics := make([]eventbus.Topic, 0, len(snapshot))
	for topic := range snapshot {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })

	fmt.Fprintln(buf, "# HELP brandloom_events_total Events published on the internal bus, by topic.")
	fmt.Fprintln(buf, "# TYPE brandloom_events_total counter")
	for _, topic := range topics {
		fmt.Fprintf(buf, "brandloom_events_total{topic=%q} %d\n", string(topic), snapshot[topic])
	}
}

func (e *PrometheusExporter) writeBusMetrics(buf *bytes.Buffer) {
	if e.bus == nil {
		return
	}
	metrics := e.bus.Metrics()
	fmt.Fprintln(buf, "# HELP brandloom_bus_published_total Total events accepted by the bus.")
	fmt.Fprintln(buf, "# TYPE brandloom_bus_published_total counter")
	fmt.Fprintf(buf, "brandloom_bus_published_total %d\n", metrics.PublishTotal)
	fmt.Fprintln(buf, "# HELP brandloom_bus_dropped_total Events dropped by subscription delivery policies.")
	fmt.Fprintln(buf, "# TYPE brandloom_bus_dropped_total counter")
	fmt.Fprintf(buf, "brandloom_bus_dropped_total %d\n", metrics.DroppedTotal)
}

func (e *PrometheusExporter) writeGauges(buf *bytes.Buffer) {
	if e.sessions != nil {
		fmt.Fprintln(buf, "# HELP brandloom_sessions_active Sessions currently registered.")
		fmt.Fprintln(buf, "# TYPE brandloom_sessions_active gauge")
		fmt.Fprintf(buf, "brandloom_sessions_active %d\n", e.sessions.Count())
	}
	if e.clients != nil {
		fmt.Fprintln(buf, "# HELP brandloom_clients_connected Websocket clients currently connected.")
		fmt.Fprintln(buf, "# TYPE brandloom_clients_connected gauge")
		fmt.Fprintf(buf, "brandloom_clients_connected %d\n", e.clients.ClientCount())
	}
}
