package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/brandloom-ai/brandloom/internal/brand"
	"github.com/brandloom-ai/brandloom/internal/config"
	configstore "github.com/brandloom-ai/brandloom/internal/config/store"
	"github.com/brandloom-ai/brandloom/internal/decision"
	"github.com/brandloom-ai/brandloom/internal/eventbus"
	"github.com/brandloom-ai/brandloom/internal/gemini"
	"github.com/brandloom-ai/brandloom/internal/observability"
	"github.com/brandloom-ai/brandloom/internal/procutil"
	daemonruntime "github.com/brandloom-ai/brandloom/internal/runtime"
	"github.com/brandloom-ai/brandloom/internal/server"
	"github.com/brandloom-ai/brandloom/internal/session"
	"github.com/brandloom-ai/brandloom/internal/tools"
	"github.com/brandloom-ai/brandloom/internal/version"
)

const (
	// defaultListenAddr binds locally only; remote access is out of scope.
	defaultListenAddr = "127.0.0.1:4820"

	// storeQueryTimeout bounds context deadlines for store lookups during
	// daemon operation (settings reads, API key resolution).
	storeQueryTimeout = 5 * time.Second

	// serviceOpTimeout bounds context deadlines for service shutdown.
	serviceOpTimeout = 5 * time.Second
)

// Options groups dependencies required to construct a Daemon.
type Options struct {
	Store *configstore.Store

	// ListenAddr overrides the stored daemon.listen_addr setting.
	ListenAddr string
}

// Daemon owns the voice session stack: config store, event bus, session
// registry, websocket transport, and the HTTP surface around them.
type Daemon struct {
	store         *configstore.Store
	bus           *eventbus.Bus
	registry      *session.Registry
	activity      *observability.ActivityLog
	wsServer      *server.Server
	gateway       *gatewayService
	serviceHost   *daemonruntime.ServiceHost
	lifecycle     *daemonruntime.Lifecycle
	instancePaths config.InstancePaths
	listenAddr    string
	liveModel     string
	decisionModel string
	voice         string

	ctx    context.Context
	cancel context.CancelFunc

	errMu  sync.Mutex
	runErr error
}

// New creates a new daemon instance bound to the provided configuration store.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon: configuration store is required")
	}

	paths := config.GetInstancePaths(opts.Store.InstanceName())

	bus := eventbus.New()
	eventCounter := observability.NewEventCounter()
	bus.RegisterObserver(eventCounter)

	registry := session.NewRegistry(bus)

	d := &Daemon{
		store:         opts.Store,
		bus:           bus,
		registry:      registry,
		serviceHost:   daemonruntime.NewServiceHost(),
		lifecycle:     daemonruntime.NewLifecycle(),
		instancePaths: paths,
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	if err := d.loadSettings(opts.ListenAddr); err != nil {
		d.cancel()
		return nil, err
	}

	d.wsServer = server.New(server.Config{
		Registry: registry,
		Factory:  d.sessionFactory(),
		Archive:  storeArchiver{store: opts.Store},
		Context:  d.ctx,
	})

	exporter := observability.NewPrometheusExporter(bus, eventCounter)
	exporter.WithSessions(registry)
	exporter.WithClients(d.wsServer)

	d.activity = observability.NewActivityLog(0)
	d.activity.Start(d.ctx, bus)

	mux := http.NewServeMux()
	d.wsServer.Routes(mux, server.StatusDeps{
		Version:   version.String(),
		StartTime: time.Now(),
		Bus:       bus,
		Events:    eventCounter,
		Exporter:  exporter,
		Activity:  d.activity,
	})

	d.gateway = newGatewayService(d.listenAddr, mux)
	if err := d.serviceHost.Register("http_gateway", func(ctx context.Context) (daemonruntime.Service, error) {
		return d.gateway, nil
	}); err != nil {
		d.cancel()
		return nil, err
	}

	return d, nil
}

// loadSettings resolves the daemon's runtime settings from the store, with the
// explicit listen address override winning over the stored value.
func (d *Daemon) loadSettings(listenOverride string) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeQueryTimeout)
	defer cancel()

	addr, err := d.store.Setting(ctx, configstore.SettingListenAddr, defaultListenAddr)
	if err != nil {
		return fmt.Errorf("daemon: load listen address: %w", err)
	}
	if listenOverride != "" {
		addr = listenOverride
	}
	d.listenAddr = addr

	if d.liveModel, err = d.store.Setting(ctx, configstore.SettingLiveModel, ""); err != nil {
		return fmt.Errorf("daemon: load live model: %w", err)
	}
	if d.decisionModel, err = d.store.Setting(ctx, configstore.SettingDecisionModel, ""); err != nil {
		return fmt.Errorf("daemon: load decision model: %w", err)
	}
	if d.voice, err = d.store.Setting(ctx, configstore.SettingVoice, ""); err != nil {
		return fmt.Errorf("daemon: load voice: %w", err)
	}
	return nil
}

// sessionFactory builds per-connection collaborators: the Gemini Live dialer
// and a fresh decision agent so conversation history never crosses clients.
func (d *Daemon) sessionFactory() server.SessionFactory {
	return func() (session.Dialer, session.Decider) {
		dial := func(ctx context.Context) (session.UpstreamChannel, error) {
			apiKey, err := d.store.GeminiAPIKey(ctx)
			if err != nil {
				return nil, fmt.Errorf("daemon: resolve API key: %w", err)
			}
			if apiKey == "" {
				return nil, errors.New("daemon: no Gemini API key configured (set GEMINI_API_KEY or store gemini.api_key)")
			}
			ch, err := gemini.Dial(ctx, gemini.Config{
				APIKey:       apiKey,
				Model:        d.liveModel,
				Voice:        d.voice,
				SystemPrompt: liveSystemPrompt,
				Declarations: tools.Declarations(),
			})
			if err != nil {
				return nil, err
			}
			return ch, nil
		}
		return dial, d.newDecider()
	}
}

func (d *Daemon) newDecider() session.Decider {
	ctx, cancel := context.WithTimeout(context.Background(), storeQueryTimeout)
	defer cancel()

	apiKey, err := d.store.GeminiAPIKey(ctx)
	if err == nil && apiKey != "" {
		gen, genErr := decision.NewGeminiGenerator(context.Background(), apiKey, d.decisionModel)
		if genErr == nil {
			return decision.New(gen)
		}
		err = genErr
	}
	if err == nil {
		err = errors.New("no API key configured")
	}
	log.Printf("[Daemon] decision pass unavailable: %v", err)
	return decision.New(unavailableGenerator{err: err})
}

// unavailableGenerator stands in when no Gemini client could be built. Every
// decision pass fails, which the agent maps to an empty decision.
type unavailableGenerator struct{ err error }

func (g unavailableGenerator) Generate(context.Context, string, string) (string, error) {
	return "", g.err
}

// storeArchiver persists final session snapshots into the config store.
type storeArchiver struct {
	store *configstore.Store
}

func (a storeArchiver) SaveSnapshot(sessionID string, dna brand.DNA, progress []brand.ProgressItem, startedAt, endedAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeQueryTimeout)
	defer cancel()
	return a.store.ArchiveSession(ctx, configstore.SessionRecord{
		ID:        sessionID,
		DNA:       dna,
		Progress:  progress,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	})
}

// Start runs the daemon until Shutdown is called or a service fails. It blocks.
func (d *Daemon) Start() error {
	if err := daemonruntime.WritePIDFile(d.instancePaths.Lock, os.Getpid()); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer daemonruntime.RemovePIDFile(d.instancePaths.Lock)

	if err := d.serviceHost.Start(d.ctx); err != nil {
		d.cancel()
		return fmt.Errorf("daemon: start services: %w", err)
	}
	log.Printf("[Daemon] listening on http://%s", d.gateway.Addr())

	go d.watchHostErrors()

	<-d.lifecycle.Done()

	d.cancel()

	stopCtx, cancel := context.WithTimeout(context.Background(), serviceOpTimeout)
	if err := d.serviceHost.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Daemon] service shutdown error: %v", err)
		d.setRunError(err)
	}
	cancel()

	d.registry.CloseAll()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), serviceOpTimeout)
	if err := d.activity.Stop(drainCtx); err != nil {
		log.Printf("[Daemon] activity feed drain: %v", err)
	}
	drainCancel()

	d.bus.Shutdown()

	if err := d.store.Close(); err != nil {
		log.Printf("[Daemon] store close error: %v", err)
	}

	return d.getRunError()
}

// Shutdown signals the daemon to stop. Safe to call multiple times.
func (d *Daemon) Shutdown() {
	d.lifecycle.Shutdown()
}

// ListenAddr reports the bound address once Start has brought the gateway up.
func (d *Daemon) ListenAddr() string {
	return d.gateway.Addr()
}

func (d *Daemon) watchHostErrors() {
	select {
	case err := <-d.serviceHost.Errors():
		if err != nil {
			log.Printf("[Daemon] fatal service error: %v", err)
			d.setRunError(err)
			d.lifecycle.Shutdown()
		}
	case <-d.lifecycle.Done():
	}
}

func (d *Daemon) setRunError(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.runErr == nil {
		d.runErr = err
	}
}

func (d *Daemon) getRunError() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.runErr
}

// IsRunning reports whether another daemon instance holds the lock file.
// A stale lock left by a crashed process is cleaned up on the way.
func IsRunning(instanceName string) bool {
	paths := config.GetInstancePaths(instanceName)

	pid, err := daemonruntime.ReadPIDFile(paths.Lock)
	if err != nil {
		return false
	}

	if !procutil.IsProcessAlive(pid) {
		daemonruntime.RemovePIDFile(paths.Lock)
		return false
	}

	return true
}
