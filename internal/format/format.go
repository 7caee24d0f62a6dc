// Package format renders event lists into Telegram-sized Hebrew messages.
package format

import (
	"fmt"
	"strings"
	"time"

	"gigmaster/internal/event"
)

// DefaultLimit is Telegram's per-message text limit in runes.
const DefaultLimit = 4096

// Dates render time-first. Hebrew is RTL and Telegram flips the visual
// order of a leading date, so "21:00 2026-09-01" displays correctly where
// "2026-09-01 21:00" does not.
const (
	whenLayout = "15:04 2006-01-02"
	saleLayout = "15:04:05 2006-01-02"
)

// Block renders a single event as one Hebrew text block. Empty fields are
// left out rather than rendered blank. Events are stored in UTC; loc is the
// wall-clock the user should see (the venues' timezone), nil means UTC.
func Block(ev event.Event, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	if ev.Venue != "" {
		fmt.Fprintf(&b, "מיקום: %s\n", ev.Venue)
	}
	fmt.Fprintf(&b, "תאריך: %s\n", ev.When.In(loc).Format(whenLayout))
	if !ev.SaleStart.IsZero() {
		fmt.Fprintf(&b, "פתיחת מכירת כרטיסים: %s\n", ev.SaleStart.In(loc).Format(saleLayout))
	}
	for _, l := range ev.Links {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Header builds the "found N shows of X" line that opens a notification.
func Header(name string, n int) string {
	return fmt.Sprintf("נמצאו %d הופעות של %s:", n, name)
}

// Render packs the header and one block per event into messages of at most
// limit runes. The header appears only in the first message; blocks are
// kept whole and in order, and a block that alone exceeds the limit is
// hard-split on rune boundaries. Times are rendered in loc, nil means UTC.
func Render(header string, events []event.Event, limit int, loc *time.Location) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}

	parts := make([]string, 0, len(events)+1)
	if header != "" {
		parts = append(parts, header)
	}
	for _, ev := range events {
		parts = append(parts, Block(ev, loc))
	}
	if len(parts) == 0 {
		return nil
	}

	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for _, p := range parts {
		rs := []rune(p)
		need := len(rs)
		if len(cur) > 0 {
			need++ // joining newline
		}
		if len(cur)+need > limit {
			flush()
		}
		if len(rs) > limit {
			// Single oversized block: emit it alone, split by force.
			flush()
			for len(rs) > limit {
				out = append(out, string(rs[:limit]))
				rs = rs[limit:]
			}
			cur = append(cur, rs...)
			continue
		}
		if len(cur) > 0 {
			cur = append(cur, '\n')
		}
		cur = append(cur, rs...)
	}
	flush()
	return out
}
