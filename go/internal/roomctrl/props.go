package roomctrl

import (
	"sort"
	"time"
)

// PropGroup is one logical step of the room: every prop sharing an order value
type PropGroup struct {
	Order int    `json:"order"`
	Props []Prop `json:"props"`
}

// GroupByOrder buckets props by their order value, groups sorted ascending.
// Order values need not be contiguous; grouping is by equality. Every prop
// appears in exactly one group and relative order within a group is kept.
func GroupByOrder(props []Prop) []PropGroup {
	sorted := make([]Prop, len(props))
	copy(sorted, props)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	var groups []PropGroup
	for _, p := range sorted {
		if n := len(groups); n > 0 && groups[n-1].Order == p.Order {
			groups[n-1].Props = append(groups[n-1].Props, p)
			continue
		}
		groups = append(groups, PropGroup{Order: p.Order, Props: []Prop{p}})
	}
	return groups
}

// ElapsedMs returns real play time in milliseconds, excluding paused
// intervals: (pausedAt ?? now) - startedAt - totalPausedMs. Zero when the
// session is not active or has no start time.
func (s Session) ElapsedMs(now time.Time) int64 {
	if !s.Active || s.StartedAt == nil {
		return 0
	}
	end := now.UnixMilli()
	if s.PausedAt != nil {
		end = *s.PausedAt
	}
	return end - *s.StartedAt - s.TotalPausedMs
}

// Paused reports whether the session is active but currently paused
func (s Session) Paused() bool {
	return s.Active && s.PausedAt != nil
}
