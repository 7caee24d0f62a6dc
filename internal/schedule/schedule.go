// Package schedule drives the periodic sweeps on cron specs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gigmaster/internal/event"
	logx "gigmaster/pkg/logx"
)

// Sweeper is implemented by the notifier.
type Sweeper interface {
	Sweep(ctx context.Context, cat event.Category) error
}

type Config struct {
	// Timezone is an IANA name for cron evaluation. Empty means UTC.
	Timezone string

	// MusicSpec and ComedySpec are cron expressions, 5-field or 6-field
	// with seconds. An empty spec disables that category's sweep.
	MusicSpec  string
	ComedySpec string

	// RunOnStart fires one sweep per enabled category right after Start.
	RunOnStart bool
}

// Scheduler owns the cron runner. Overlapping runs of the same category are
// skipped, not queued; a sweep that outlives its interval would otherwise
// pile up behind a slow upstream.
type Scheduler struct {
	cfg     Config
	sweeper Sweeper
	log     logx.Logger

	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running map[event.Category]*sync.Mutex

	mu      sync.Mutex
	started bool
}

func New(cfg Config, sweeper Sweeper, log logx.Logger) (*Scheduler, error) {
	if sweeper == nil {
		return nil, errors.New("sweeper is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", tz, err)
		}
		loc = l
	}
	// SecondOptional allows both 5-field and 6-field (with seconds) specs.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	s := &Scheduler{
		cfg:     cfg,
		sweeper: sweeper,
		log:     log,
		c:       cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		running: map[event.Category]*sync.Mutex{
			event.CategoryMusic:  {},
			event.CategoryComedy: {},
		},
	}
	for cat, spec := range map[event.Category]string{
		event.CategoryMusic:  cfg.MusicSpec,
		event.CategoryComedy: cfg.ComedySpec,
	} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		cat := cat
		if _, err := s.c.AddFunc(spec, func() { s.run(cat) }); err != nil {
			return nil, fmt.Errorf("cron spec %q for %s: %w", spec, cat, err)
		}
	}
	return s, nil
}

// Start begins cron evaluation. The context bounds every sweep the
// scheduler fires; cancel it before Stop for a fast shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.c.Start()
	if s.cfg.RunOnStart {
		if strings.TrimSpace(s.cfg.MusicSpec) != "" {
			go s.run(event.CategoryMusic)
		}
		if strings.TrimSpace(s.cfg.ComedySpec) != "" {
			go s.run(event.CategoryComedy)
		}
	}
}

// Stop halts cron and waits for in-flight sweeps started by cron to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.c.Stop().Done()
}

func (s *Scheduler) run(cat event.Category) {
	mu := s.running[cat]
	if !mu.TryLock() {
		s.log.Warn("sweep still running, skipping tick", logx.String("category", string(cat)))
		return
	}
	defer mu.Unlock()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := s.sweeper.Sweep(ctx, cat); err != nil {
		s.log.Error("sweep failed", logx.Err(err), logx.String("category", string(cat)))
		return
	}
	s.log.Info("sweep finished",
		logx.String("category", string(cat)),
		logx.Duration("took", time.Since(start)))
}
