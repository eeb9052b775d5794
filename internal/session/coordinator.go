package session

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/brandloom-ai/brandloom/internal/audio"
	"github.com/brandloom-ai/brandloom/internal/brand"
	"github.com/brandloom-ai/brandloom/internal/decision"
	"github.com/brandloom-ai/brandloom/internal/eventbus"
	"github.com/brandloom-ai/brandloom/internal/gemini"
	"github.com/brandloom-ai/brandloom/internal/protocol"
	"github.com/brandloom-ai/brandloom/internal/tools"
)

const (
	// defaultWarmup is the settling window after the upstream channel opens.
	// Capture frames arriving inside it are discarded so stale mic buffer
	// content never reaches the model.
	defaultWarmup = 1 * time.Second

	defaultQueueSize = 256
)

// ClientSender delivers server messages to one connected client. Send reports
// false when the message could not be queued; the coordinator logs and moves
// on rather than blocking its loop on a slow client.
type ClientSender interface {
	Send(msg protocol.ServerMessage) bool
}

// UpstreamChannel is the live model connection as the coordinator sees it.
// *gemini.Channel is the production implementation.
type UpstreamChannel interface {
	Events() <-chan gemini.Event
	SendAudio(pcm []byte) error
	SendText(text string, endTurn bool) error
	SendToolResults(results []tools.Result) error
	Close() error
}

// Dialer opens an upstream channel for a session.
type Dialer func(ctx context.Context) (UpstreamChannel, error)

// Archiver persists the final brand state when a session ends. The daemon
// backs this with the config store; tests leave it nil.
type Archiver interface {
	SaveSnapshot(sessionID string, dna brand.DNA, progress []brand.ProgressItem, startedAt, endedAt time.Time) error
}

// Decider runs the post-turn reasoning pass. *decision.Agent is the
// production implementation.
type Decider interface {
	Record(role, text string)
	Decide(ctx context.Context, utterance string, dna brand.DNA, canvas brand.CanvasState) decision.Decision
}

// Config carries the collaborators a coordinator needs.
type Config struct {
	SessionID string
	Sender    ClientSender
	Dial      Dialer
	Decider   Decider
	Bus       *eventbus.Bus
	Archive   Archiver

	// Warmup overrides the post-connect settling window. Zero means default.
	Warmup time.Duration
	// QueueSize overrides the internal event queue capacity. Zero means default.
	QueueSize int
	// Clock overrides time for the store and playback timeline. Nil means time.Now.
	Clock func() time.Time

	Logger *log.Logger
}

// Coordinator owns all state for one voice session. Every mutation happens on
// its single event-loop goroutine; the transport, the upstream reader, and
// decision workers only post events onto the queue. That makes it the sole
// writer toward the client, so message ordering is deterministic.
type Coordinator struct {
	id       string
	sender   ClientSender
	dial     Dialer
	decider  Decider
	bus      *eventbus.Bus
	store    *brand.Store
	handler  *tools.Handler
	timeline  *audio.Timeline
	archive   Archiver
	clock     func() time.Time
	startedAt time.Time
	warmupD   time.Duration
	logger    *log.Logger

	queue  chan loopEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// onClose is invoked once after the loop exits; the registry uses it to
	// drop the session from its map.
	onClose func()

	// stateView mirrors the loop-owned state for observers (/statusz, tests).
	stateView atomic.Value // eventbus.SessionState

	micDropped   atomic.Uint64
	queueDropped atomic.Uint64

	// Everything below is owned by the run loop. No locks.
	state       eventbus.SessionState
	channel     UpstreamChannel
	warmup      bool
	micLocked   bool
	warmupTimer *time.Timer
	userBuf     string
	modelBuf    string
}

// NewCoordinator builds a coordinator in the idle state. Call Start to run it.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Warmup <= 0 {
		cfg.Warmup = defaultWarmup
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	store := brand.NewStore(cfg.Clock)
	c := &Coordinator{
		id:        cfg.SessionID,
		sender:    cfg.Sender,
		dial:      cfg.Dial,
		decider:   cfg.Decider,
		bus:       cfg.Bus,
		store:     store,
		handler:   tools.NewHandler(cfg.SessionID, store, cfg.Bus),
		timeline:  audio.NewTimeline(cfg.Clock),
		archive:   cfg.Archive,
		clock:     cfg.Clock,
		startedAt: cfg.Clock(),
		warmupD:   cfg.Warmup,
		logger:    cfg.Logger,
		queue:     make(chan loopEvent, cfg.QueueSize),
		done:      make(chan struct{}),
		state:     eventbus.SessionStateIdle,
	}
	c.stateView.Store(eventbus.SessionStateIdle)
	return c
}

// ID returns the session identifier.
func (c *Coordinator) ID() string { return c.id }

// State reports the last published lifecycle state. It is safe to call from
// any goroutine.
func (c *Coordinator) State() eventbus.SessionState {
	return c.stateView.Load().(eventbus.SessionState)
}

// Done closes when the coordinator loop has fully stopped.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// DroppedFrames reports how many capture frames were discarded by the warmup
// window or the mic lock.
func (c *Coordinator) DroppedFrames() uint64 { return c.micDropped.Load() }

// Start launches the event loop. It must be called exactly once.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.run()
}

// Stop shuts the coordinator down and waits for the loop to exit. Calling
// Stop on a never-started coordinator is a no-op.
func (c *Coordinator) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// HandleClient posts one client message onto the coordinator's queue. Audio
// chunks are enqueued best-effort and dropped under backpressure; everything
// else blocks until the loop accepts it or the coordinator stops.
func (c *Coordinator) HandleClient(msg protocol.ClientMessage) {
	if msg.Type == protocol.ClientAudioChunk {
		select {
		case c.queue <- clientEvent{msg: msg}:
		default:
			c.queueDropped.Add(1)
		}
		return
	}
	select {
	case c.queue <- clientEvent{msg: msg}:
	case <-c.done:
	}
}

// send forwards one message to the client, logging when the transport could
// not take it.
func (c *Coordinator) send(msg protocol.ServerMessage) {
	if c.sender == nil {
		return
	}
	if !c.sender.Send(msg) {
		c.logger.Printf("[Session] %s: dropped outbound %s (slow client)", c.id, msg.Type)
	}
}

func (c *Coordinator) sendAll(msgs []protocol.ServerMessage) {
	for _, m := range msgs {
		c.send(m)
	}
}

// setState transitions the lifecycle state and announces it on the bus.
func (c *Coordinator) setState(state eventbus.SessionState, reason string) {
	if c.state == state {
		return
	}
	c.state = state
	c.stateView.Store(state)
	eventbus.Publish(c.ctx, c.bus, eventbus.Sessions.Lifecycle, eventbus.SourceCoordinator,
		eventbus.SessionLifecycleEvent{SessionID: c.id, State: state, Reason: reason})
}
