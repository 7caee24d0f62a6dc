// Package aggregate fans a search out to every source adapter of a category
// and folds the results into one deduplicated event list.
package aggregate

import (
	"context"
	"fmt"

	"gigmaster/internal/event"
	"gigmaster/internal/source"
	logx "gigmaster/pkg/logx"
)

// Searcher is the read side consumed by the notifier and the chat commands.
type Searcher interface {
	Search(ctx context.Context, cat event.Category, name string) ([]event.Event, error)
}

type Aggregator struct {
	clients []source.Client
	log     logx.Logger
}

func New(log logx.Logger, clients ...source.Client) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aggregator{clients: clients, log: log}
}

// Search queries every adapter registered for cat and merges duplicate
// reports of the same occurrence (same normalized title + start time) into
// one event with the links unioned.
//
// Failure policy is fail-fast: the first adapter error aborts the whole
// search, even when other adapters would have returned data. One consistent
// "upstream is down" answer beats a silently incomplete one; the caller
// retries on its next sweep anyway.
func (a *Aggregator) Search(ctx context.Context, cat event.Category, name string) ([]event.Event, error) {
	var all []event.Event
	for _, c := range a.clients {
		if !c.Supports(cat) {
			continue
		}
		evs, err := c.Fetch(ctx, cat, name)
		if err != nil {
			return nil, fmt.Errorf("search %s %q via %s: %w", cat, name, c.Source(), err)
		}
		a.log.Debug("adapter fetched",
			logx.String("source", string(c.Source())),
			logx.String("category", string(cat)),
			logx.String("name", name),
			logx.Int("events", len(evs)))
		all = append(all, evs...)
	}
	return event.Merge(all), nil
}
