// Package bot implements the chat command surface: subscription management,
// ad-hoc searches and the small conversation flow behind each command.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gigmaster/internal/event"
	"gigmaster/internal/format"
	"gigmaster/internal/store"
	kit "gigmaster/internal/transport"
	logx "gigmaster/pkg/logx"
)

// Store is the slice of the persistence layer the chat surface needs.
type Store interface {
	RegisterUser(ctx context.Context, u store.User) error
	Subscriptions(ctx context.Context, userID int64, cat event.Category) ([]string, error)
	AddSubscription(ctx context.Context, userID int64, cat event.Category, name string) error
	RemoveSubscription(ctx context.Context, userID int64, cat event.Category, name string) error
}

// Searcher is the aggregated event lookup.
type Searcher interface {
	Search(ctx context.Context, cat event.Category, name string) ([]event.Event, error)
}

type Config struct {
	// AllowedUsernames restricts who the bot answers. Empty means open to
	// everyone. Matching is case-insensitive and ignores a leading @.
	AllowedUsernames []string

	// MessageLimit caps one outgoing message, in runes. 0 means the
	// transport's limit.
	MessageLimit int

	// Location is the wall-clock search results are rendered in. Nil means
	// UTC.
	Location *time.Location
}

type action int

const (
	actionNone action = iota
	actionAdd
	actionRemove
	actionSearch
)

// pending is the conversation state of one chat: the command that is
// waiting for the user to type a name.
type pending struct {
	act action
	cat event.Category
}

type Bot struct {
	store  Store
	search Searcher
	sender kit.Adapter
	log    logx.Logger

	allowed  map[string]struct{}
	msgLimit int
	loc      *time.Location

	mu      sync.Mutex
	pending map[int64]pending
}

func New(cfg Config, st Store, search Searcher, sender kit.Adapter, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	limit := cfg.MessageLimit
	if limit <= 0 {
		limit = kit.TextLimit
	}
	var allowed map[string]struct{}
	if len(cfg.AllowedUsernames) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedUsernames))
		for _, u := range cfg.AllowedUsernames {
			u = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
			if u != "" {
				allowed[u] = struct{}{}
			}
		}
	}
	return &Bot{
		store:    st,
		search:   search,
		sender:   sender,
		log:      log,
		allowed:  allowed,
		msgLimit: limit,
		loc:      cfg.Location,
		pending:  map[int64]pending{},
	}
}

// Run consumes updates until ctx ends or the channel closes. Updates are
// handled sequentially; command handling is cheap and ordering per chat
// matters more than throughput here.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, u)
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, u kit.Update) {
	msg := u.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if !b.allowedUser(msg.FromUsername) {
		b.log.Debug("ignoring message from unlisted user",
			logx.String("username", msg.FromUsername),
			logx.Int64("chat", msg.ChatID))
		return
	}

	if err := b.store.RegisterUser(ctx, store.User{
		ID:        msg.FromID,
		ChatID:    msg.ChatID,
		Username:  msg.FromUsername,
		FirstName: msg.FromFirstName,
		LastName:  msg.FromLastName,
	}); err != nil {
		b.log.Error("user registration failed", logx.Err(err), logx.Int64("user", msg.FromID))
		b.reply(ctx, msg.ChatID, replySomethingBroke)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg, text)
		return
	}

	b.mu.Lock()
	p, ok := b.pending[msg.ChatID]
	delete(b.pending, msg.ChatID)
	b.mu.Unlock()
	if !ok {
		// Free text outside a conversation; nudge toward the commands.
		b.reply(ctx, msg.ChatID, helpMessage)
		return
	}
	b.completeAction(ctx, msg, p, text)
}

func (b *Bot) allowedUser(username string) bool {
	if b.allowed == nil {
		return true
	}
	_, ok := b.allowed[strings.ToLower(strings.TrimPrefix(username, "@"))]
	return ok
}

func (b *Bot) handleCommand(ctx context.Context, msg *kit.Message, text string) {
	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	// Telegram appends the bot name in groups: /add@gigmaster_bot.
	cmd, _, _ = strings.Cut(strings.ToLower(cmd), "@")

	// Any command interrupts a waiting conversation.
	b.mu.Lock()
	_, hadPending := b.pending[msg.ChatID]
	delete(b.pending, msg.ChatID)
	b.mu.Unlock()

	switch cmd {
	case "/start", "/help":
		b.reply(ctx, msg.ChatID, helpMessage)
	case "/cancel":
		if hadPending {
			b.reply(ctx, msg.ChatID, replyCanceled)
		} else {
			b.reply(ctx, msg.ChatID, replyNothingToCancel)
		}
	case "/list":
		b.listSubscriptions(ctx, msg, event.CategoryMusic)
	case "/listcomics":
		b.listSubscriptions(ctx, msg, event.CategoryComedy)
	case "/add":
		b.beginAction(ctx, msg, pending{actionAdd, event.CategoryMusic}, arg)
	case "/remove":
		b.beginAction(ctx, msg, pending{actionRemove, event.CategoryMusic}, arg)
	case "/search":
		b.beginAction(ctx, msg, pending{actionSearch, event.CategoryMusic}, arg)
	case "/addcomic":
		b.beginAction(ctx, msg, pending{actionAdd, event.CategoryComedy}, arg)
	case "/removecomic":
		b.beginAction(ctx, msg, pending{actionRemove, event.CategoryComedy}, arg)
	case "/searchcomic":
		b.beginAction(ctx, msg, pending{actionSearch, event.CategoryComedy}, arg)
	default:
		b.reply(ctx, msg.ChatID, replyUnknownCommand)
	}
}

// beginAction either completes immediately when the name was passed as a
// command argument, or prompts and waits for the next message.
func (b *Bot) beginAction(ctx context.Context, msg *kit.Message, p pending, arg string) {
	if arg != "" {
		b.completeAction(ctx, msg, p, arg)
		return
	}
	b.mu.Lock()
	b.pending[msg.ChatID] = p
	b.mu.Unlock()
	b.reply(ctx, msg.ChatID, prompt(p))
}

func (b *Bot) completeAction(ctx context.Context, msg *kit.Message, p pending, name string) {
	switch p.act {
	case actionAdd:
		err := b.store.AddSubscription(ctx, msg.FromID, p.cat, name)
		switch {
		case errors.Is(err, store.ErrSubscriptionLimit):
			b.reply(ctx, msg.ChatID, replyListFull)
		case err != nil:
			b.log.Error("add subscription failed", logx.Err(err), logx.Int64("user", msg.FromID))
			b.reply(ctx, msg.ChatID, replySomethingBroke)
		default:
			b.reply(ctx, msg.ChatID, name+" התווסף לרשימת החיפוש!")
		}
	case actionRemove:
		if err := b.store.RemoveSubscription(ctx, msg.FromID, p.cat, name); err != nil {
			b.log.Error("remove subscription failed", logx.Err(err), logx.Int64("user", msg.FromID))
			b.reply(ctx, msg.ChatID, replySomethingBroke)
			return
		}
		b.reply(ctx, msg.ChatID, name+" הוסר מרשימת החיפוש!")
	case actionSearch:
		b.runSearch(ctx, msg, p.cat, name)
	}
}

func (b *Bot) runSearch(ctx context.Context, msg *kit.Message, cat event.Category, name string) {
	b.log.Info("searching on request",
		logx.String("name", name),
		logx.String("category", string(cat)),
		logx.Int64("user", msg.FromID))
	events, err := b.search.Search(ctx, cat, name)
	if err != nil {
		b.log.Warn("search failed", logx.Err(err), logx.String("name", name))
		b.reply(ctx, msg.ChatID, replyUpstreamDown)
		return
	}
	if len(events) == 0 {
		b.reply(ctx, msg.ChatID, "לא נמצאו הופעות של "+name)
		return
	}
	for _, m := range format.Render(format.Header(name, len(events)), events, b.msgLimit, b.loc) {
		b.reply(ctx, msg.ChatID, m)
	}
}

func (b *Bot) listSubscriptions(ctx context.Context, msg *kit.Message, cat event.Category) {
	names, err := b.store.Subscriptions(ctx, msg.FromID, cat)
	if err != nil {
		b.log.Error("list subscriptions failed", logx.Err(err), logx.Int64("user", msg.FromID))
		b.reply(ctx, msg.ChatID, replySomethingBroke)
		return
	}
	if len(names) == 0 {
		b.reply(ctx, msg.ChatID, replyEmptyList)
		return
	}
	head := "הזמרים שכרגע בחיפוש הם:"
	if cat == event.CategoryComedy {
		head = "הסטנדאפיסטים שכרגע בחיפוש הם:"
	}
	b.reply(ctx, msg.ChatID, head+"\n"+strings.Join(names, ", "))
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	err := b.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, kit.SendOptions{DisablePreview: true})
	if err != nil {
		b.log.Warn("reply failed", logx.Err(err), logx.Int64("chat", chatID))
	}
}

// Commands is the menu published to the chat platform.
func Commands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "/add", Description: "הוסף זמר"},
		{Command: "/remove", Description: "הסר זמר"},
		{Command: "/search", Description: "חפש הופעות לזמר"},
		{Command: "/list", Description: "הצג רשימת זמרים לחיפוש"},
		{Command: "/addcomic", Description: "הוסף סטנדאפיסט"},
		{Command: "/removecomic", Description: "הסר סטנדאפיסט"},
		{Command: "/searchcomic", Description: "חפש הופעות לסטנדאפיסט"},
		{Command: "/listcomics", Description: "הצג רשימת סטנדאפיסטים לחיפוש"},
		{Command: "/help", Description: "הצג מסך עזרה"},
	}
}
