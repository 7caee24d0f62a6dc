// Package event defines the normalized show record shared by every layer:
// source adapters produce events, stores key on them and the notifier and
// chat surface render them.
package event

import (
	"strings"
	"time"
)

// Category splits the subscription space: singers and stand-up comedians
// are tracked in separate lists with separate sweeps.
type Category string

const (
	CategoryMusic  Category = "music"
	CategoryComedy Category = "comedy"
)

// Source names the upstream a record came from.
type Source string

const (
	SourceKupat     Source = "kupat"
	SourceComedyBar Source = "comedybar"
	SourceCastilia  Source = "castilia"
)

// Event is one occurrence of a show: a specific performer at a specific
// start time. All times are UTC; adapters normalize on the way in.
type Event struct {
	Title string
	When  time.Time

	Venue     string
	SaleStart time.Time
	SaleStop  time.Time

	// Links point at the purchase page, one per source that reported the
	// occurrence.
	Links []string

	Source Source
}

// Key is the identity of an occurrence: normalized title plus start time.
// Two providers selling tickets for the same show yield the same key, which
// is what deduplication and the notified-set are built on.
func (e Event) Key() string {
	return strings.ToLower(strings.TrimSpace(e.Title)) + "|" + e.When.UTC().Format(time.RFC3339)
}

// Merge folds duplicate reports of the same occurrence into one event. The
// first-seen event wins on every field except Links, which are unioned in
// first-appearance order. Input order is preserved and the input slice is
// not mutated.
func Merge(events []Event) []Event {
	if len(events) == 0 {
		return nil
	}
	out := make([]Event, 0, len(events))
	index := make(map[string]int, len(events))
	for _, ev := range events {
		k := ev.Key()
		i, seen := index[k]
		if !seen {
			keep := ev
			keep.Links = append([]string(nil), ev.Links...)
			index[k] = len(out)
			out = append(out, keep)
			continue
		}
		for _, l := range ev.Links {
			if !containsString(out[i].Links, l) {
				out[i].Links = append(out[i].Links, l)
			}
		}
	}
	return out
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
