// Package daemon wires configuration into the running service: skill
// registry and watcher, provider factory, push queue and listener, scheduler,
// session manager, and the WebSocket gateway.
package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/kawan/internal/config"
	"github.com/harun/kawan/internal/logger"
	"github.com/harun/kawan/pkg/adapter"
	"github.com/harun/kawan/pkg/auth"
	"github.com/harun/kawan/pkg/gateway"
	"github.com/harun/kawan/pkg/provider"
	"github.com/harun/kawan/pkg/pushqueue"
	"github.com/harun/kawan/pkg/scheduler"
	"github.com/harun/kawan/pkg/session"
	"github.com/harun/kawan/pkg/skills"
)

// Daemon is the running Kawan service.
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	log    zerolog.Logger

	registry     *skills.Registry
	skillWatcher *skills.Watcher
	push         *pushqueue.Queue
	pushListener *adapter.PushListener
	sched        *scheduler.Scheduler
	sessions     *session.Manager
	server       *gateway.Server
	lifecycle    *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New creates a daemon from validated configuration.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	zl := log.Zerolog()

	registry := skills.NewRegistry(zl)
	if cfg.Skills.Builtins {
		if err := skills.RegisterBuiltins(registry); err != nil {
			return nil, fmt.Errorf("failed to register builtin skills: %w", err)
		}
	}

	skillWatcher, err := skills.NewWatcher(skills.WatcherConfig{
		Dir:      cfg.Skills.Dir,
		Registry: registry,
		Resolver: skills.BuiltinResolver,
		Logger:   zl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create skill watcher: %w", err)
	}

	push := pushqueue.New(zl)

	sched, err := scheduler.New(push, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	for _, job := range cfg.Jobs {
		if err := sched.Add(scheduler.Job{
			Name:    job.Name,
			Expr:    job.Expr,
			Message: job.Message,
			Source:  job.Source,
		}); err != nil {
			return nil, err
		}
	}

	var pushListener *adapter.PushListener
	if cfg.Push.Enabled {
		pushListener, err = adapter.NewPushListener(adapter.PushListenerConfig{
			Endpoint: cfg.Push.Endpoint,
			Token:    cfg.Push.Token,
			Sink:     push.Deliver,
			Logger:   zl,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create push listener: %w", err)
		}
	}

	verifier := &auth.StaticVerifier{Tokens: make(map[string]auth.User)}
	for _, entry := range cfg.Auth.Tokens {
		verifier.Tokens[entry.Token] = auth.User{UserID: entry.UserID, Phone: entry.Phone}
	}

	sessions, err := session.NewManager(session.ManagerConfig{
		Verifier:        verifier,
		QuotaChecker:    &auth.FixedQuotaChecker{TotalPerUser: cfg.Hosted.QuotaPerUser},
		Registry:        registry,
		ProviderFactory: &provider.Factory{
			BuiltinAPIKey:  cfg.Builtin.APIKey,
			BuiltinBaseURL: cfg.Builtin.BaseURL,
			BuiltinModel:   cfg.Builtin.Model,
		},
		PushQueue:      push,
		Logger:         zl,
		Privileged:     cfg.Gateway.Privileged,
		DefaultGateway: cfg.Gateway.DefaultEndpoint,
		HostedEndpoint: cfg.Hosted.Endpoint,
		HostedToken:    cfg.Hosted.Token,
		SystemPrompt:   cfg.Builtin.SystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	server, err := gateway.NewServer(gateway.Config{
		Port:           cfg.Gateway.Port,
		SessionManager: sessions,
		PushQueue:      push,
		Logger:         zl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway server: %w", err)
	}

	d := &Daemon{
		config:       cfg,
		logger:       log,
		log:          log.With("daemon"),
		registry:     registry,
		skillWatcher: skillWatcher,
		push:         push,
		pushListener: pushListener,
		sched:        sched,
		sessions:     sessions,
		server:       server,
	}
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// Start brings all components up.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	if err := d.lifecycle.Start(); err != nil {
		return err
	}

	if err := d.skillWatcher.Start(); err != nil {
		return fmt.Errorf("failed to start skill watcher: %w", err)
	}

	if d.pushListener != nil {
		d.pushListener.Start()
	}

	d.sched.Start()

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	d.startTime = time.Now()
	d.running = true
	d.log.Info().Int("port", d.config.Gateway.Port).Msg("Daemon started")

	return nil
}

// Stop tears all components down in reverse order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	if err := d.server.Stop(); err != nil {
		d.log.Warn().Err(err).Msg("Gateway shutdown failed")
	}

	d.sched.Stop()

	if d.pushListener != nil {
		d.pushListener.Stop()
	}

	if err := d.skillWatcher.Stop(); err != nil {
		d.log.Warn().Err(err).Msg("Skill watcher shutdown failed")
	}

	if err := d.lifecycle.Stop(); err != nil {
		d.log.Warn().Err(err).Msg("Lifecycle shutdown failed")
	}

	d.running = false
	d.log.Info().Msg("Daemon stopped")

	return nil
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	d.log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	return d.Stop()
}

// Status reports the daemon's runtime state.
type Status struct {
	Running     bool
	Uptime      time.Duration
	Connections int
	Pending     int
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.Connections = d.server.ConnectedCount()
		status.Pending = d.push.Pending()
	}
	return status
}
