// Package app assembles the daemon: config in, wired services out, with a
// Start/Stop lifecycle driven by cmd/boardnotifyd.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"boardnotify/internal/clock"
	"boardnotify/internal/config"
	"boardnotify/internal/delivery"
	"boardnotify/internal/push"
	"boardnotify/internal/scheduler"
	"boardnotify/internal/server"
	"boardnotify/internal/storage"
)

type App struct {
	log  zerolog.Logger
	cfgm *config.Manager

	store    *storage.Store
	registry *delivery.Registry
	sched    *scheduler.Service
	srv      *server.Server

	cancel  context.CancelFunc
	httpErr chan error
	wg      sync.WaitGroup
}

// New loads the config file and builds every service. Nothing is running
// yet; Start brings the process up.
func New(cfgPath string, log zerolog.Logger) (*App, error) {
	cfgm := config.NewManager(cfgPath, log.With().Str("component", "config").Logger())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Logging.Level))

	zone := clock.NewZone(cfg.Timezone, log.With().Str("component", "clock").Logger())

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With().Str("component", "storage").Logger())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pusher, err := push.Open(push.Config{
		Channel:    cfg.Push.Channel,
		RatePerSec: cfg.Push.RatePerSec,
		Line: push.LineConfig{
			AccessToken: cfg.Push.Line.AccessToken,
			Endpoint:    cfg.Push.Line.Endpoint,
		},
		Telegram: push.TelegramConfig{Token: cfg.Push.Telegram.Token},
	}, log.With().Str("component", "push").Logger())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open push channel: %w", err)
	}

	registry := delivery.NewRegistry(cfg.Notify.ChannelBuffer, log.With().Str("component", "delivery").Logger())

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, scheduler.Deps{
		Rules:    store,
		Tasks:    store,
		Pusher:   pusher,
		Registry: registry,
		Zone:     zone,
	}, log.With().Str("component", "scheduler").Logger())

	return &App{
		log:      log,
		cfgm:     cfgm,
		store:    store,
		registry: registry,
		sched:    sched,
	}, nil
}

// Start launches the config watcher, the scheduler loop, and the HTTP
// listener. It returns once the listener is up; use Done to observe a
// listener failure.
func (a *App) Start(ctx context.Context) error {
	appCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	cfg := a.cfgm.Get()
	a.srv = server.New(server.Config{
		Listen:    cfg.Listen,
		JWTSecret: cfg.Auth.JWTSecret,
	}, a.sched, a.registry, appCtx, a.log.With().Str("component", "server").Logger())

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(appCtx, a.applyConfig); err != nil {
			a.log.Warn().Err(err).Msg("config watch stopped")
		}
	}()

	a.sched.Start(appCtx)

	a.httpErr = make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.httpErr <- a.srv.ListenAndServe()
	}()

	a.log.Info().Msg("boardnotify up")
	return nil
}

// Done reports an HTTP listener failure. A clean Shutdown sends nil.
func (a *App) Done() <-chan error { return a.httpErr }

// Stop shuts everything down in reverse order: listener, scheduler,
// watcher, store.
func (a *App) Stop(ctx context.Context) error {
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("http shutdown")
		}
	}
	a.sched.Stop(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	a.log.Info().Msg("boardnotify stopped")
	return nil
}

// applyConfig propagates what can change at runtime: log level and the
// scheduler knobs. Listen address, storage path, and push channel need a
// restart. It runs on the watcher's debounce goroutine, so it must not
// write App fields; the level goes through zerolog's global gate, which
// every component logger respects.
func (a *App) applyConfig(cfg *config.Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Logging.Level))
	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		a.log.Warn().Err(err).Msg("scheduler config not applied")
		return
	}
	a.sched.Apply(schedCfg)
	a.log.Info().Msg("runtime config applied")
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	interval, err := config.ParseDurationField("notify.check_interval", cfg.Notify.CheckInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	slack, err := config.ParseDurationField("notify.load_slack", cfg.Notify.LoadSlack)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		CheckInterval: interval,
		LoadSlack:     slack,
		ReloadSpec:    cfg.Notify.Reload,
	}, nil
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return lvl
}

// Scheduler exposes the scheduler for tests.
func (a *App) Scheduler() *scheduler.Service { return a.sched }
