package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gigmaster/internal/event"
	logx "gigmaster/pkg/logx"
)

const (
	comedyBarDefaultBaseURL = "https://comedybar.smarticket.co.il"
	castiliaDefaultBaseURL  = "https://tickets.castilia.co.il"
)

// Smarticket covers the standup (comedy) providers that run on the
// smarticket engine; comedybar and castilia share the same API shape and
// differ only in base URL.
//
// Unlike kupat, show titles are matched by substring: smarticket show
// titles embed the comedian name in longer show names ("X במופע חדש"),
// so exact equality would match nothing. Matching is case-sensitive.
type Smarticket struct {
	src     event.Source
	baseURL string
	client  *http.Client
	loc     *time.Location
	log     logx.Logger
}

type smarticketShow struct {
	ID     int64             `json:"id"`
	Title  string            `json:"title"`
	URL    string            `json:"url"`
	Events []smarticketEvent `json:"events"`
}

type smarticketEvent struct {
	ID               int64  `json:"id"`
	TicketsAvailable bool   `json:"tickets_available"`
	Visibility       bool   `json:"visibility"`
	ShowDate         string `json:"show_date"`
	ShowTime         string `json:"show_time"`
	EventPlace       string `json:"event_place"`
	Permalink        string `json:"permalink"`
}

func NewComedyBar(cfg Config, log logx.Logger) *Smarticket {
	return newSmarticket(event.SourceComedyBar, comedyBarDefaultBaseURL, cfg, log)
}

func NewCastilia(cfg Config, log logx.Logger) *Smarticket {
	return newSmarticket(event.SourceCastilia, castiliaDefaultBaseURL, cfg, log)
}

func newSmarticket(src event.Source, defaultBase string, cfg Config, log logx.Logger) *Smarticket {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBase
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Smarticket{src: src, baseURL: base, client: newHTTPClient(cfg), loc: cfg.location(), log: log}
}

func (s *Smarticket) Source() event.Source { return s.src }

func (s *Smarticket) Supports(cat event.Category) bool { return cat == event.CategoryComedy }

func (s *Smarticket) Fetch(ctx context.Context, cat event.Category, name string) ([]event.Event, error) {
	if !s.Supports(cat) {
		return nil, nil
	}

	var shows []smarticketShow
	if err := getJSON(ctx, s.client, s.baseURL+"/iframe/api/shows", &shows); err != nil {
		return nil, err
	}

	out := make([]event.Event, 0, 8)
	for _, show := range shows {
		if strings.TrimSpace(show.Title) == "" {
			return nil, fmt.Errorf("%s: show %d: missing title", s.src, show.ID)
		}
		if name != "" && !strings.Contains(show.Title, name) {
			continue
		}
		for _, ev := range show.Events {
			// Sold out or hidden at the source.
			if !ev.TicketsAvailable || !ev.Visibility {
				continue
			}
			when, err := s.parseWhen(ev.ShowDate, ev.ShowTime)
			if err != nil {
				return nil, fmt.Errorf("%s: show %d event %d: %w", s.src, show.ID, ev.ID, err)
			}
			out = append(out, event.Event{
				Title:  show.Title,
				When:   when,
				Venue:  ev.EventPlace,
				Links:  []string{s.link(ev.Permalink, show.URL)},
				Source: s.src,
			})
		}
	}
	return out, nil
}

func (s *Smarticket) parseWhen(date, clock string) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		return time.Time{}, fmt.Errorf("missing show_date")
	}
	if clock == "" {
		clock = "00:00:00"
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, date+" "+clock, s.loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad show_date/show_time %q %q", date, clock)
}

// link builds the purchase URL: permalinks are site-relative endpoints, the
// show URL is the fallback when an event has none.
func (s *Smarticket) link(permalink, showURL string) string {
	p := strings.TrimSpace(permalink)
	if p == "" {
		p = strings.TrimSpace(showURL)
	}
	if p == "" {
		return s.baseURL
	}
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return s.baseURL + "/" + strings.TrimLeft(p, "/")
}
