package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"gigmaster/internal/event"
	logx "gigmaster/pkg/logx"
)

func openTestStore(t *testing.T, maxSubs int) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:             filepath.Join(t.TempDir(), "gigmaster.db"),
		BusyTimeout:      time.Second,
		MaxSubscriptions: maxSubs,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegisterAndListUsers(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()

	if err := s.RegisterUser(ctx, User{ID: 1, ChatID: 10, Username: "alice"}); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if err := s.RegisterUser(ctx, User{ID: 2, ChatID: 20, Username: "bob"}); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	// Re-registration updates the chat id instead of failing.
	if err := s.RegisterUser(ctx, User{ID: 1, ChatID: 11, Username: "alice"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].ChatID != 11 {
		t.Fatalf("chat id not refreshed: %+v", users[0])
	}
}

func TestSubscriptionsRequireUser(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()

	if _, err := s.Subscriptions(ctx, 99, event.CategoryMusic); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := s.AddSubscription(ctx, 99, event.CategoryMusic, "x"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := s.RemoveSubscription(ctx, 99, event.CategoryMusic, "x"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAddRemoveSubscription(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()
	if err := s.RegisterUser(ctx, User{ID: 1, ChatID: 10}); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	for _, name := range []string{"Noa Kirel", "Omer Adam", "Noa Kirel"} {
		if err := s.AddSubscription(ctx, 1, event.CategoryMusic, name); err != nil {
			t.Fatalf("AddSubscription(%q): %v", name, err)
		}
	}
	got, err := s.Subscriptions(ctx, 1, event.CategoryMusic)
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"Noa Kirel", "Omer Adam"}) {
		t.Fatalf("duplicate add must not grow the set: %v", got)
	}

	// Categories keep separate sets.
	if err := s.AddSubscription(ctx, 1, event.CategoryComedy, "Noa Kirel"); err != nil {
		t.Fatalf("AddSubscription comedy: %v", err)
	}
	comedy, err := s.Subscriptions(ctx, 1, event.CategoryComedy)
	if err != nil {
		t.Fatalf("Subscriptions comedy: %v", err)
	}
	if len(comedy) != 1 {
		t.Fatalf("comedy set = %v", comedy)
	}

	if err := s.RemoveSubscription(ctx, 1, event.CategoryMusic, "Omer Adam"); err != nil {
		t.Fatalf("RemoveSubscription: %v", err)
	}
	// Removing again is a no-op.
	if err := s.RemoveSubscription(ctx, 1, event.CategoryMusic, "Omer Adam"); err != nil {
		t.Fatalf("repeat remove: %v", err)
	}
	got, err = s.Subscriptions(ctx, 1, event.CategoryMusic)
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"Noa Kirel"}) {
		t.Fatalf("after remove: %v", got)
	}
}

func TestSubscriptionLimit(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	if err := s.RegisterUser(ctx, User{ID: 1, ChatID: 10}); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if err := s.AddSubscription(ctx, 1, event.CategoryMusic, name); err != nil {
			t.Fatalf("AddSubscription(%q): %v", name, err)
		}
	}

	err := s.AddSubscription(ctx, 1, event.CategoryMusic, "c")
	if !errors.Is(err, ErrSubscriptionLimit) {
		t.Fatalf("expected ErrSubscriptionLimit, got %v", err)
	}
	got, err := s.Subscriptions(ctx, 1, event.CategoryMusic)
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("failed add must leave the set unchanged: %v", got)
	}

	// Re-adding an existing name still works at the cap.
	if err := s.AddSubscription(ctx, 1, event.CategoryMusic, "a"); err != nil {
		t.Fatalf("re-add at cap: %v", err)
	}
	// The cap is per category, not global.
	if err := s.AddSubscription(ctx, 1, event.CategoryComedy, "c"); err != nil {
		t.Fatalf("other category at cap: %v", err)
	}
}

func TestMarkNotifiedIsIdempotentUnion(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()
	if err := s.RegisterUser(ctx, User{ID: 1, ChatID: 10}); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	when := time.Date(2026, 9, 1, 21, 0, 0, 0, time.UTC)
	evs := []event.Event{
		{Title: "Noa Kirel", When: when},
		{Title: "Noa Kirel", When: when.Add(24 * time.Hour)},
	}

	ok, err := s.IsNotified(ctx, 1, event.CategoryMusic, evs[0].Key())
	if err != nil || ok {
		t.Fatalf("fresh key should be unnotified: %v, %v", ok, err)
	}

	if err := s.MarkNotified(ctx, 1, event.CategoryMusic, evs); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	// Overlapping second call is a union, not an error.
	if err := s.MarkNotified(ctx, 1, event.CategoryMusic, evs[:1]); err != nil {
		t.Fatalf("repeat MarkNotified: %v", err)
	}

	for _, ev := range evs {
		ok, err := s.IsNotified(ctx, 1, event.CategoryMusic, ev.Key())
		if err != nil {
			t.Fatalf("IsNotified: %v", err)
		}
		if !ok {
			t.Fatalf("key %q should be marked", ev.Key())
		}
	}

	// Notified state is scoped per user and per category.
	ok, err = s.IsNotified(ctx, 1, event.CategoryComedy, evs[0].Key())
	if err != nil || ok {
		t.Fatalf("category leak: %v, %v", ok, err)
	}
	if err := s.RegisterUser(ctx, User{ID: 2, ChatID: 20}); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	ok, err = s.IsNotified(ctx, 2, event.CategoryMusic, evs[0].Key())
	if err != nil || ok {
		t.Fatalf("user leak: %v, %v", ok, err)
	}
}
