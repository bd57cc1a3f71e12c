package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"guildkeeper/internal/storage"
)

// Periods accepted by Since.
const (
	PeriodDay  = "day"
	PeriodWeek = "week"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Since   time.Time
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

// EventCount is one row of a report ordered by frequency.
type EventCount struct {
	Event string
	Count int
}

func Since(period string, now time.Time) (time.Time, error) {
	switch period {
	case PeriodDay, "":
		return now.Add(-24 * time.Hour), nil
	case PeriodWeek:
		return now.Add(-7 * 24 * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unknown report period %q", period)
	}
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{Since: since, ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

// TopEvents returns the n most frequent events, ties broken by name.
func (r Report) TopEvents(n int) []EventCount {
	events := make([]EventCount, 0, len(r.ByEvent))
	for event, count := range r.ByEvent {
		events = append(events, EventCount{Event: event, Count: count})
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Count != events[j].Count {
			return events[i].Count > events[j].Count
		}
		return events[i].Event < events[j].Event
	})
	if n > 0 && len(events) > n {
		events = events[:n]
	}
	return events
}
