package aggregate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"gigmaster/internal/event"
	"gigmaster/internal/source"
	logx "gigmaster/pkg/logx"
)

type fakeClient struct {
	src    event.Source
	cat    event.Category
	events []event.Event
	err    error
	calls  int
}

func (f *fakeClient) Source() event.Source                 { return f.src }
func (f *fakeClient) Supports(cat event.Category) bool     { return cat == f.cat }
func (f *fakeClient) Fetch(ctx context.Context, cat event.Category, name string) ([]event.Event, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func TestSearchMergesAcrossSources(t *testing.T) {
	when := time.Date(2026, 9, 1, 20, 0, 0, 0, time.UTC)
	a := &fakeClient{src: event.SourceComedyBar, cat: event.CategoryComedy, events: []event.Event{
		{Title: "Alice", When: when, Venue: "TLV", Links: []string{"https://cb/1"}, Source: event.SourceComedyBar},
	}}
	b := &fakeClient{src: event.SourceCastilia, cat: event.CategoryComedy, events: []event.Event{
		{Title: "alice", When: when, Venue: "other", Links: []string{"https://ca/1"}, Source: event.SourceCastilia},
		{Title: "Alice", When: when.Add(time.Hour), Links: []string{"https://ca/2"}, Source: event.SourceCastilia},
	}}

	got, err := New(logx.Nop(), a, b).Search(context.Background(), event.CategoryComedy, "Alice")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events after merge, got %d: %+v", len(got), got)
	}
	if !reflect.DeepEqual(got[0].Links, []string{"https://cb/1", "https://ca/1"}) {
		t.Fatalf("links not unioned in order: %v", got[0].Links)
	}
	if got[0].Venue != "TLV" {
		t.Fatalf("first-seen fields must win: %+v", got[0])
	}
}

func TestSearchSkipsOtherCategories(t *testing.T) {
	music := &fakeClient{src: event.SourceKupat, cat: event.CategoryMusic}
	comedy := &fakeClient{src: event.SourceComedyBar, cat: event.CategoryComedy}

	_, err := New(logx.Nop(), music, comedy).Search(context.Background(), event.CategoryMusic, "x")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if music.calls != 1 || comedy.calls != 0 {
		t.Fatalf("category routing broken: music=%d comedy=%d", music.calls, comedy.calls)
	}
}

// A single provider outage aborts the whole category search. This is a
// deliberate fail-fast policy, asserted here so it can't regress silently.
func TestSearchFailsFastOnAdapterError(t *testing.T) {
	down := &fakeClient{src: event.SourceComedyBar, cat: event.CategoryComedy,
		err: fmt.Errorf("GET /shows: %w", source.ErrUnavailable)}
	up := &fakeClient{src: event.SourceCastilia, cat: event.CategoryComedy, events: []event.Event{
		{Title: "Bob", When: time.Now(), Links: []string{"l"}},
	}}

	got, err := New(logx.Nop(), down, up).Search(context.Background(), event.CategoryComedy, "Bob")
	if !errors.Is(err, source.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got != nil {
		t.Fatalf("failed search must not return partial results: %+v", got)
	}
	if up.calls != 0 {
		t.Fatalf("search must abort before querying later adapters, calls=%d", up.calls)
	}
}
