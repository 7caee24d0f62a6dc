// Package app assembles the process: config, logging, storage, source
// adapters, the notifier sweep and the chat surface.
package app

import (
	"context"
	"strings"
	"time"

	"gigmaster/internal/aggregate"
	"gigmaster/internal/bot"
	"gigmaster/internal/config"
	"gigmaster/internal/notifier"
	rtsup "gigmaster/internal/runtime/supervisor"
	"gigmaster/internal/schedule"
	"gigmaster/internal/source"
	"gigmaster/internal/store"
	kit "gigmaster/internal/transport"
	telegram "gigmaster/internal/transport/telegram"
	logx "gigmaster/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   *store.Store
	adapter *telegram.Adapter
	sched   *schedule.Scheduler
	chat    *bot.Bot

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")
	cfgm := config.NewManager(cfgPath, bootLog.With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, ad)
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 2*time.Second)
	if err != nil {
		return nil, err
	}
	maxSubs := cfg.Storage.MaxSubscriptions
	if maxSubs == 0 {
		maxSubs = 20
	}
	st, err := store.Open(store.Config{
		Path:             cfg.Storage.Path,
		BusyTimeout:      busyTimeout,
		MaxSubscriptions: maxSubs,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	loc, err := sourceLocation(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	clients, err := buildSources(cfg, loc, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	agg := aggregate.New(log.With(logx.String("comp", "aggregate")), clients...)

	searchTimeout, err := config.ParseDurationOrDefault("notifier.search_timeout", cfg.Notifier.SearchTimeout, 30*time.Second)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	notif := notifier.New(notifier.Config{
		MessageLimit:  cfg.Notifier.MessageLimit,
		SearchTimeout: searchTimeout,
		RatePerSec:    cfg.Notifier.RatePerSec,
		Location:      loc,
	}, st, agg, ad, log.With(logx.String("comp", "notifier")))

	musicSpec := strings.TrimSpace(cfg.Schedule.Music)
	if musicSpec == "" {
		musicSpec = "@hourly"
	}
	comedySpec := strings.TrimSpace(cfg.Schedule.Comedy)
	if comedySpec == "" {
		// Comedy line-ups move slowly; once a month at 10:00.
		comedySpec = "0 10 1 * *"
	}
	sched, err := schedule.New(schedule.Config{
		Timezone:   cfg.Schedule.Timezone,
		MusicSpec:  musicSpec,
		ComedySpec: comedySpec,
		RunOnStart: cfg.Schedule.RunOnStart,
	}, notif, log.With(logx.String("comp", "schedule")))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	chat := bot.New(bot.Config{
		AllowedUsernames: cfg.Telegram.AllowedUsernames,
		MessageLimit:     cfg.Notifier.MessageLimit,
		Location:         loc,
	}, st, agg, ad, log.With(logx.String("comp", "bot")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   st,
		adapter: ad,
		sched:   sched,
		chat:    chat,
		updates: make(chan kit.Update, 256),
	}, nil
}

// sourceLocation resolves the timezone the upstream feeds (and the rendered
// messages) live in. All upstreams are Israeli ticketing sites, hence the
// default.
func sourceLocation(cfg *config.Config) (*time.Location, error) {
	if tz := strings.TrimSpace(cfg.Sources.Timezone); tz != "" {
		return time.LoadLocation(tz)
	}
	if loc, err := time.LoadLocation("Asia/Jerusalem"); err == nil {
		return loc, nil
	}
	return time.UTC, nil
}

func buildSources(cfg *config.Config, loc *time.Location, log logx.Logger) ([]source.Client, error) {
	timeout, err := config.ParseDurationOrDefault("sources.timeout", cfg.Sources.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	insecure := cfg.Sources.SkipTLSVerify == nil || *cfg.Sources.SkipTLSVerify

	base := source.Config{
		Timeout:            timeout,
		InsecureSkipVerify: insecure,
		Location:           loc,
	}
	var clients []source.Client
	if cfg.Sources.Kupat.IsEnabled() {
		c := base
		c.BaseURL = cfg.Sources.Kupat.BaseURL
		clients = append(clients, source.NewKupat(c, log.With(logx.String("comp", "source.kupat"))))
	}
	if cfg.Sources.ComedyBar.IsEnabled() {
		c := base
		c.BaseURL = cfg.Sources.ComedyBar.BaseURL
		clients = append(clients, source.NewComedyBar(c, log.With(logx.String("comp", "source.comedybar"))))
	}
	if cfg.Sources.Castilia.IsEnabled() {
		c := base
		c.BaseURL = cfg.Sources.Castilia.BaseURL
		clients = append(clients, source.NewCastilia(c, log.With(logx.String("comp", "source.castilia"))))
	}
	return clients, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("bot.updates", func(c context.Context) error {
		return a.chat.Run(c, a.updates)
	})
	a.sup.Go0("config.watch", func(c context.Context) {
		_ = a.cfgm.Watch(c)
	})
	a.sup.Go0("config.reload", func(c context.Context) {
		ch := a.cfgm.Subscribe(1)
		defer a.cfgm.Unsubscribe(ch)
		for {
			select {
			case <-c.Done():
				return
			case cfg := <-ch:
				if cfg == nil {
					continue
				}
				a.applyReload(cfg)
			}
		}
	})

	a.sched.Start(a.sup.Context())

	// Menu publication is best-effort: a failure here only costs the
	// clickable command list.
	mctx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(mctx, bot.Commands()); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}
	cancel()

	a.log.Info("started")
	return nil
}

// applyReload pushes the parts of a config change that can take effect
// without a restart. Structural settings (token, storage path, cron specs)
// still need a process restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	})
	a.log.Info("logging config applied")
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	a.sched.Stop()
	if a.sup != nil {
		a.sup.Cancel()
	}
	_ = a.adapter.Stop(ctx)
	if a.sup != nil {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = a.sup.Wait(wctx)
		cancel()
	}
	err := a.store.Close()
	_ = a.logs.Close()
	return err
}
