// Package notifier runs the periodic sweep that tells each user about shows
// they have not seen yet.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"gigmaster/internal/event"
	"gigmaster/internal/format"
	"gigmaster/internal/store"
	kit "gigmaster/internal/transport"
	logx "gigmaster/pkg/logx"
)

// Searcher is the aggregated event lookup.
type Searcher interface {
	Search(ctx context.Context, cat event.Category, name string) ([]event.Event, error)
}

// Store is the slice of the persistence layer the sweep needs.
type Store interface {
	ListUsers(ctx context.Context) ([]store.User, error)
	Subscriptions(ctx context.Context, userID int64, cat event.Category) ([]string, error)
	IsNotified(ctx context.Context, userID int64, cat event.Category, key string) (bool, error)
	MarkNotified(ctx context.Context, userID int64, cat event.Category, events []event.Event) error
}

// Sender delivers one text message to one chat.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt kit.SendOptions) error
}

type Config struct {
	// MessageLimit caps one outgoing message, in runes. 0 means the
	// transport's limit, so formatter chunks pass through unsplit.
	MessageLimit int

	// SearchTimeout bounds one upstream search. 0 means 30s.
	SearchTimeout time.Duration

	// RatePerSec paces outgoing sends across the whole sweep. 0 means 1/s,
	// well under Telegram's broadcast limits.
	RatePerSec float64

	// Location is the wall-clock times are rendered in. Nil means UTC.
	Location *time.Location
}

type Notifier struct {
	store   Store
	search  Searcher
	sender  Sender
	log     logx.Logger
	limiter *rate.Limiter

	msgLimit      int
	searchTimeout time.Duration
	loc           *time.Location
}

func New(cfg Config, st Store, search Searcher, sender Sender, log logx.Logger) *Notifier {
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = kit.TextLimit
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		store:         st,
		search:        search,
		sender:        sender,
		log:           log,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		msgLimit:      cfg.MessageLimit,
		searchTimeout: cfg.SearchTimeout,
		loc:           cfg.Location,
	}
}

// Sweep walks every user's subscription set for one category, searches each
// name upstream and pushes the events the user has not been told about yet.
//
// Failures are isolated per name: an upstream outage or a failed send for
// one name is logged and the sweep moves on, so one dead provider or one
// blocked chat cannot starve the rest. Notified state is committed only
// after every chunk of the message went out; a failed send means the same
// events are retried on the next sweep, trading an occasional duplicate for
// never losing a notification.
func (n *Notifier) Sweep(ctx context.Context, cat event.Category) error {
	users, err := n.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	n.log.Info("sweep started",
		logx.String("category", string(cat)),
		logx.Int("users", len(users)))

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.sweepUser(ctx, cat, u); err != nil {
			n.log.Error("user sweep aborted", logx.Err(err),
				logx.Int64("user", u.ID),
				logx.String("category", string(cat)))
		}
	}
	return nil
}

func (n *Notifier) sweepUser(ctx context.Context, cat event.Category, u store.User) error {
	names, err := n.store.Subscriptions(ctx, u.ID, cat)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.sweepName(ctx, cat, u, name); err != nil {
			// A broken store means notified-state reads can no longer be
			// trusted; stop this user rather than risk duplicate floods.
			if errors.Is(err, errStoreFault) {
				return err
			}
			n.log.Warn("name sweep skipped", logx.Err(err),
				logx.Int64("user", u.ID),
				logx.String("name", name))
		}
	}
	return nil
}

var errStoreFault = errors.New("notification store fault")

func (n *Notifier) sweepName(ctx context.Context, cat event.Category, u store.User, name string) error {
	sctx, cancel := context.WithTimeout(ctx, n.searchTimeout)
	events, err := n.search.Search(sctx, cat, name)
	cancel()
	if err != nil {
		return err
	}

	fresh := events[:0:0]
	for _, ev := range events {
		seen, err := n.store.IsNotified(ctx, u.ID, cat, ev.Key())
		if err != nil {
			return fmt.Errorf("%w: %v", errStoreFault, err)
		}
		if !seen {
			fresh = append(fresh, ev)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	msgs := format.Render(format.Header(name, len(fresh)), fresh, n.msgLimit, n.loc)
	to := kit.ChatTarget{ChatID: u.ChatID}
	for _, msg := range msgs {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := n.sender.SendText(ctx, to, msg, kit.SendOptions{DisablePreview: true}); err != nil {
			return err
		}
	}
	// Commit only after the whole notification is out.
	if err := n.store.MarkNotified(ctx, u.ID, cat, fresh); err != nil {
		return fmt.Errorf("%w: %v", errStoreFault, err)
	}
	n.log.Info("notified",
		logx.Int64("user", u.ID),
		logx.String("name", name),
		logx.Int("events", len(fresh)),
		logx.Int("messages", len(msgs)))
	return nil
}
