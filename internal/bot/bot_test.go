package bot

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gigmaster/internal/event"
	"gigmaster/internal/source"
	"gigmaster/internal/store"
	kit "gigmaster/internal/transport"
	logx "gigmaster/pkg/logx"
)

type memStore struct {
	users map[int64]store.User
	subs  map[string][]string
	max   int
}

func newMemStore(max int) *memStore {
	return &memStore{users: map[int64]store.User{}, subs: map[string][]string{}, max: max}
}

func subsKey(userID int64, cat event.Category) string {
	return fmt.Sprintf("%d|%s", userID, cat)
}

func (m *memStore) RegisterUser(ctx context.Context, u store.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *memStore) Subscriptions(ctx context.Context, userID int64, cat event.Category) ([]string, error) {
	return m.subs[subsKey(userID, cat)], nil
}

func (m *memStore) AddSubscription(ctx context.Context, userID int64, cat event.Category, name string) error {
	k := subsKey(userID, cat)
	for _, n := range m.subs[k] {
		if n == name {
			return nil
		}
	}
	if len(m.subs[k]) >= m.max {
		return store.ErrSubscriptionLimit
	}
	m.subs[k] = append(m.subs[k], name)
	return nil
}

func (m *memStore) RemoveSubscription(ctx context.Context, userID int64, cat event.Category, name string) error {
	k := subsKey(userID, cat)
	out := m.subs[k][:0]
	for _, n := range m.subs[k] {
		if n != name {
			out = append(out, n)
		}
	}
	m.subs[k] = out
	return nil
}

type fakeSearch struct {
	events []event.Event
	err    error
}

func (f *fakeSearch) Search(ctx context.Context, cat event.Category, name string) ([]event.Event, error) {
	return f.events, f.err
}

type fakeSender struct{ sent []string }

func (f *fakeSender) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeSender) Stop(ctx context.Context) error                         { return nil }
func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt kit.SendOptions) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) last(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no reply sent")
	}
	return f.sent[len(f.sent)-1]
}

func message(text string) kit.Update {
	return kit.Update{Message: &kit.Message{
		ID: 1, ChatID: 50, FromID: 7, FromUsername: "alice", Text: text,
	}}
}

func newTestBot(cfg Config, st Store, search Searcher) (*Bot, *fakeSender) {
	sender := &fakeSender{}
	return New(cfg, st, search, sender, logx.Nop()), sender
}

func TestAddConversationFlow(t *testing.T) {
	st := newMemStore(5)
	b, sender := newTestBot(Config{}, st, &fakeSearch{})
	ctx := context.Background()

	b.HandleUpdate(ctx, message("/add"))
	if got := sender.last(t); got != "איזה זמר/ת תרצה להוסיף?" {
		t.Fatalf("prompt = %q", got)
	}

	b.HandleUpdate(ctx, message("נועה קירל"))
	if got := sender.last(t); got != "נועה קירל התווסף לרשימת החיפוש!" {
		t.Fatalf("confirmation = %q", got)
	}
	subs, _ := st.Subscriptions(ctx, 7, event.CategoryMusic)
	if len(subs) != 1 || subs[0] != "נועה קירל" {
		t.Fatalf("subs = %v", subs)
	}
	if _, ok := st.users[7]; !ok {
		t.Fatal("user not registered on first contact")
	}
}

func TestAddWithInlineArgument(t *testing.T) {
	st := newMemStore(5)
	b, sender := newTestBot(Config{}, st, &fakeSearch{})

	b.HandleUpdate(context.Background(), message("/addcomic שחר חסון"))
	if got := sender.last(t); got != "שחר חסון התווסף לרשימת החיפוש!" {
		t.Fatalf("confirmation = %q", got)
	}
	subs, _ := st.Subscriptions(context.Background(), 7, event.CategoryComedy)
	if len(subs) != 1 {
		t.Fatalf("comedy subs = %v", subs)
	}
	music, _ := st.Subscriptions(context.Background(), 7, event.CategoryMusic)
	if len(music) != 0 {
		t.Fatalf("category mixed up: %v", music)
	}
}

func TestRemoveConversationFlow(t *testing.T) {
	st := newMemStore(5)
	_ = st.AddSubscription(context.Background(), 7, event.CategoryMusic, "עומר אדם")
	b, sender := newTestBot(Config{}, st, &fakeSearch{})
	ctx := context.Background()

	b.HandleUpdate(ctx, message("/remove"))
	if got := sender.last(t); got != "איזה זמר/ת תרצה להסיר?" {
		t.Fatalf("prompt = %q", got)
	}
	b.HandleUpdate(ctx, message("עומר אדם"))
	if got := sender.last(t); got != "עומר אדם הוסר מרשימת החיפוש!" {
		t.Fatalf("confirmation = %q", got)
	}
	subs, _ := st.Subscriptions(ctx, 7, event.CategoryMusic)
	if len(subs) != 0 {
		t.Fatalf("subs = %v", subs)
	}
}

func TestCancelClearsPendingAction(t *testing.T) {
	b, sender := newTestBot(Config{}, newMemStore(5), &fakeSearch{})
	ctx := context.Background()

	b.HandleUpdate(ctx, message("/cancel"))
	if got := sender.last(t); got != replyNothingToCancel {
		t.Fatalf("reply = %q", got)
	}

	b.HandleUpdate(ctx, message("/add"))
	b.HandleUpdate(ctx, message("/cancel"))
	if got := sender.last(t); got != replyCanceled {
		t.Fatalf("reply = %q", got)
	}

	// The name typed after the cancel must not be treated as an add.
	b.HandleUpdate(ctx, message("נועה קירל"))
	if got := sender.last(t); !strings.HasPrefix(got, "פקודות:") {
		t.Fatalf("expected help fallback, got %q", got)
	}
}

func TestCommandInterruptsPendingAction(t *testing.T) {
	st := newMemStore(5)
	b, sender := newTestBot(Config{}, st, &fakeSearch{})
	ctx := context.Background()

	b.HandleUpdate(ctx, message("/add"))
	b.HandleUpdate(ctx, message("/list"))
	if got := sender.last(t); got != replyEmptyList {
		t.Fatalf("reply = %q", got)
	}
	b.HandleUpdate(ctx, message("נועה קירל"))
	subs, _ := st.Subscriptions(ctx, 7, event.CategoryMusic)
	if len(subs) != 0 {
		t.Fatalf("stale conversation executed: %v", subs)
	}
}

func TestSubscriptionLimitReply(t *testing.T) {
	st := newMemStore(1)
	b, sender := newTestBot(Config{}, st, &fakeSearch{})
	ctx := context.Background()

	b.HandleUpdate(ctx, message("/add אחד"))
	b.HandleUpdate(ctx, message("/add שניים"))
	if got := sender.last(t); got != replyListFull {
		t.Fatalf("reply = %q", got)
	}
}

func TestAllowListBlocksUnknownUsers(t *testing.T) {
	st := newMemStore(5)
	b, sender := newTestBot(Config{AllowedUsernames: []string{"@Alice", "bob"}}, st, &fakeSearch{})
	ctx := context.Background()

	blocked := kit.Update{Message: &kit.Message{ChatID: 60, FromID: 9, FromUsername: "mallory", Text: "/help"}}
	b.HandleUpdate(ctx, blocked)
	if len(sender.sent) != 0 {
		t.Fatalf("blocked user got a reply: %v", sender.sent)
	}
	if _, ok := st.users[9]; ok {
		t.Fatal("blocked user must not be registered")
	}

	// Case and @-prefix are ignored when matching.
	b.HandleUpdate(ctx, message("/help"))
	if len(sender.sent) != 1 {
		t.Fatalf("allowed user got no reply: %v", sender.sent)
	}
}

func TestSearchCommand(t *testing.T) {
	when := time.Date(2026, 9, 1, 21, 0, 0, 0, time.UTC)
	search := &fakeSearch{events: []event.Event{
		{Title: "נועה קירל", When: when, Venue: "פארק הירקון", Links: []string{"https://t/1"}},
	}}
	b, sender := newTestBot(Config{}, newMemStore(5), search)
	ctx := context.Background()

	b.HandleUpdate(ctx, message("/search נועה קירל"))
	got := sender.last(t)
	if !strings.HasPrefix(got, "נמצאו 1 הופעות של נועה קירל:") {
		t.Fatalf("header missing: %q", got)
	}
	if !strings.Contains(got, "פארק הירקון") || !strings.Contains(got, "https://t/1") {
		t.Fatalf("event block missing: %q", got)
	}

	search.events = nil
	b.HandleUpdate(ctx, message("/search אף אחד"))
	if got := sender.last(t); got != "לא נמצאו הופעות של אף אחד" {
		t.Fatalf("empty result reply = %q", got)
	}

	search.err = fmt.Errorf("fetch: %w", source.ErrUnavailable)
	b.HandleUpdate(ctx, message("/search נועה קירל"))
	if got := sender.last(t); got != replyUpstreamDown {
		t.Fatalf("outage reply = %q", got)
	}
}

func TestSearchRendersVenueLocalTime(t *testing.T) {
	tlv, err := time.LoadLocation("Asia/Jerusalem")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	search := &fakeSearch{events: []event.Event{
		{Title: "נועה קירל", When: time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)},
	}}
	b, sender := newTestBot(Config{Location: tlv}, newMemStore(5), search)

	b.HandleUpdate(context.Background(), message("/search נועה קירל"))
	if got := sender.last(t); !strings.Contains(got, "תאריך: 21:00 2026-09-01") {
		t.Fatalf("show time not venue-local: %q", got)
	}
}

func TestListCommands(t *testing.T) {
	st := newMemStore(5)
	ctx := context.Background()
	_ = st.AddSubscription(ctx, 7, event.CategoryMusic, "נועה קירל")
	_ = st.AddSubscription(ctx, 7, event.CategoryMusic, "עומר אדם")
	_ = st.AddSubscription(ctx, 7, event.CategoryComedy, "שחר חסון")
	b, sender := newTestBot(Config{}, st, &fakeSearch{})

	b.HandleUpdate(ctx, message("/list"))
	if got := sender.last(t); got != "הזמרים שכרגע בחיפוש הם:\nנועה קירל, עומר אדם" {
		t.Fatalf("music list = %q", got)
	}
	b.HandleUpdate(ctx, message("/listcomics"))
	if got := sender.last(t); got != "הסטנדאפיסטים שכרגע בחיפוש הם:\nשחר חסון" {
		t.Fatalf("comedy list = %q", got)
	}
}

func TestCommandWithBotSuffix(t *testing.T) {
	b, sender := newTestBot(Config{}, newMemStore(5), &fakeSearch{})
	b.HandleUpdate(context.Background(), message("/help@gigmaster_bot"))
	if got := sender.last(t); !strings.HasPrefix(got, "פקודות:") {
		t.Fatalf("suffixed command not recognized: %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	b, sender := newTestBot(Config{}, newMemStore(5), &fakeSearch{})
	b.HandleUpdate(context.Background(), message("/frobnicate"))
	if got := sender.last(t); got != replyUnknownCommand {
		t.Fatalf("reply = %q", got)
	}
}
