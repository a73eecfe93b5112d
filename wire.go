package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fffoivos/Amazon-lists/agent"
	"github.com/fffoivos/Amazon-lists/browser"
	"github.com/fffoivos/Amazon-lists/config"
	"github.com/fffoivos/Amazon-lists/confirm"
	"github.com/fffoivos/Amazon-lists/events"
	"github.com/fffoivos/Amazon-lists/extract"
	"github.com/fffoivos/Amazon-lists/filter"
	"github.com/fffoivos/Amazon-lists/gesture"
	"github.com/fffoivos/Amazon-lists/item"
	"github.com/fffoivos/Amazon-lists/locator"
	"github.com/fffoivos/Amazon-lists/overlay"
	"github.com/fffoivos/Amazon-lists/profile"
	"github.com/fffoivos/Amazon-lists/settings"
)

// app - собранный граф компонентов одной вкладки.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	browser *browser.Browser
	ctrl    *agent.Controller
	reg     *prometheus.Registry

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	prof, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}
	log.Info("profile loaded", zap.String("name", prof.Name))

	provider, err := a.settings(ctx)
	if err != nil {
		return nil, err
	}
	emitter, err := a.emitter()
	if err != nil {
		return nil, err
	}

	if err := cfg.PrepareUserDataDir(); err != nil {
		return nil, err
	}
	b, err := browser.NewBrowser(browser.Options{
		UserDataDir: cfg.UserDataDir,
		Headless:    cfg.Headless,
		OpTimeout:   cfg.OpTimeout,
		Log:         log.Named("browser"),
	})
	if err != nil {
		return nil, err
	}
	a.browser = b
	if !cfg.KeepBrowserOpen {
		a.closers = append(a.closers, func() { b.Close() })
	}

	loc := locator.New(b, prof.Roles, locator.WithLogger(log.Named("locator")))
	gestures := gesture.New(b, log.Named("gesture"))

	oopts := overlay.DefaultOptions()
	oopts.Timeout = cfg.OverlayTimeout
	opener := overlay.New(overlay.Deps{
		Page:     b,
		Locator:  loc,
		Gestures: gestures,
		Engine:   extract.New(prof.Extraction),
		Filter:   filter.New(b, prof.FilterKey),
		Settings: provider,
		Log:      log.Named("overlay"),
	}, oopts)

	detector, err := confirm.New(b, loc, prof.Confirmation, log.Named("confirm"))
	if err != nil {
		return nil, err
	}
	items, err := item.NewReader(b, loc, prof.Item)
	if err != nil {
		return nil, err
	}

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := agent.DefaultOptions()
	opts.MaxAttempts = cfg.MaxAttempts
	opts.LocateTimeout = cfg.LocateTimeout
	opts.ConfirmTimeout = cfg.ConfirmTimeout

	a.ctrl = agent.New(agent.Deps{
		Page:     b,
		Locator:  loc,
		Gestures: gestures,
		Opener:   opener,
		Confirm:  detector,
		Items:    items,
		Settings: provider,
		Events:   emitter,
		Metrics:  agent.MustNewMetrics(a.reg),
		Log:      log.Named("agent"),
	}, opts)
	ready = true
	return a, nil
}

// settings выбирает источник настроек: файл, redis или значения по умолчанию.
func (a *app) settings(ctx context.Context) (settings.Provider, error) {
	switch {
	case a.cfg.SettingsFile != "":
		return settings.NewFile(a.cfg.SettingsFile, a.log.Named("settings"))
	case a.cfg.RedisURL != "":
		opt, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opt)
		a.closers = append(a.closers, func() { client.Close() })

		// Подписка живёт до отмены ctx приложения.
		r := settings.NewRedis(client, a.cfg.RedisKey, a.log.Named("settings"))
		if err := r.Start(ctx); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return settings.NewStatic(map[string]bool{settings.KeyPersistFilter: false}), nil
	}
}

func (a *app) emitter() (events.Emitter, error) {
	multi := events.Multi{events.NewLog(a.log.Named("events"))}
	if a.cfg.NATSURL == "" {
		return multi, nil
	}
	nc, err := events.ConnectNATS(a.cfg.NATSURL, "amazon-lists")
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	})
	return append(multi, events.NewNATS(nc, a.cfg.NATSPrefix, a.log.Named("nats"))), nil
}

// Close закрывает ресурсы в обратном порядке.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.log.Sync()
}
