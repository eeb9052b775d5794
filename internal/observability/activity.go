package observability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brandloom-ai/brandloom/internal/eventbus"
)

const defaultActivityCap = 64

// ActivityEntry is one row of the daemon's recent-activity feed.
type ActivityEntry struct {
	At        time.Time `json:"at"`
	SessionID string    `json:"sessionId"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
}

// ActivityLog keeps a bounded feed of notable bus events for the status
// surface: session lifecycle transitions, upstream connectivity, tool
// requests, and decision outcomes. It consumes them through its own bus
// subscriptions, off the publishers' goroutines.
type ActivityLog struct {
	lc  eventbus.ServiceLifecycle
	max int

	mu      sync.Mutex
	entries []ActivityEntry
}

// NewActivityLog creates a log keeping the most recent max entries.
// Non-positive max selects the default capacity.
func NewActivityLog(max int) *ActivityLog {
	if max <= 0 {
		max = defaultActivityCap
	}
	return &ActivityLog{max: max}
}

// Start subscribes to the feed topics and runs the consumer workers until
// Stop is called or the parent context is cancelled.
func (l *ActivityLog) Start(ctx context.Context, bus *eventbus.Bus) {
	l.lc.Start(ctx)

	lifecycle := eventbus.SubscribeTo(bus, eventbus.Sessions.Lifecycle, eventbus.WithSubscriptionName("activity.lifecycle"))
	upstream := eventbus.SubscribeTo(bus, eventbus.Sessions.Upstream, eventbus.WithSubscriptionName("activity.upstream"))
	requested := eventbus.SubscribeTo(bus, eventbus.Tools.Requested, eventbus.WithSubscriptionName("activity.tools"))
	decisions := eventbus.SubscribeTo(bus, eventbus.Decisions.Resolved, eventbus.WithSubscriptionName("activity.decisions"))
	l.lc.AddSubscriptions(lifecycle, upstream, requested, decisions)

	l.lc.Go(func(ctx context.Context) {
		eventbus.ConsumeEnvelope(ctx, lifecycle, nil, func(env eventbus.TypedEnvelope[eventbus.SessionLifecycleEvent]) {
			detail := string(env.Payload.State)
			if env.Payload.Reason != "" {
				detail = fmt.Sprintf("%s (%s)", env.Payload.State, env.Payload.Reason)
			}
			l.append(env.Timestamp, env.Payload.SessionID, "lifecycle", detail)
		})
	})
	l.lc.Go(func(ctx context.Context) {
		eventbus.ConsumeEnvelope(ctx, upstream, nil, func(env eventbus.TypedEnvelope[eventbus.UpstreamStatusEvent]) {
			detail := "connected"
			if !env.Payload.Connected {
				detail = "disconnected"
				if env.Payload.Reason != "" {
					detail = "disconnected: " + env.Payload.Reason
				}
			}
			l.append(env.Timestamp, env.Payload.SessionID, "upstream", detail)
		})
	})
	l.lc.Go(func(ctx context.Context) {
		eventbus.Consume(ctx, requested, nil, func(ev eventbus.ToolRequestedEvent) {
			l.append(time.Time{}, ev.SessionID, "tools",
				fmt.Sprintf("%s requested %s", ev.Origin, strings.Join(ev.Tools, ", ")))
		})
	})
	l.lc.Go(func(ctx context.Context) {
		eventbus.Consume(ctx, decisions, nil, func(ev eventbus.DecisionResolvedEvent) {
			l.append(time.Time{}, ev.SessionID, "decision",
				fmt.Sprintf("intent %q, %d call(s)", ev.Intent, ev.ToolCount))
		})
	})
}

// Stop closes the subscriptions and waits for the workers to drain, bounded
// by ctx.
func (l *ActivityLog) Stop(ctx context.Context) error {
	return l.lc.Shutdown(ctx)
}

// Recent returns the feed newest-first.
func (l *ActivityLog) Recent() []ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ActivityEntry, len(l.entries))
	for i, e := range l.entries {
		out[len(out)-1-i] = e
	}
	return out
}

func (l *ActivityLog) append(at time.Time, sessionID, kind, detail string) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ActivityEntry{At: at, SessionID: sessionID, Kind: kind, Detail: detail})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}
