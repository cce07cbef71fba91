package ueba

import (
	"fmt"
	"sync"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
)

// summaryRecent is how many trailing events a summary snapshot carries.
const summaryRecent = 10

// Ledger is a fixed-capacity FIFO of activity events backed by a ring
// buffer. When full, appending evicts the single oldest event in the same
// critical section, so the ledger never exceeds its capacity.
type Ledger struct {
	mu       sync.Mutex
	events   []models.ActivityEvent
	head     int // index of the oldest retained event
	size     int
	capacity int
}

// NewLedger creates a ledger retaining up to capacity events.
func NewLedger(capacity int) (*Ledger, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ledger capacity must be positive, got %d", capacity)
	}
	return &Ledger{
		events:   make([]models.ActivityEvent, capacity),
		capacity: capacity,
	}, nil
}

// Append stores an event, evicting the oldest when the ledger is full.
func (l *Ledger) Append(event models.ActivityEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size == l.capacity {
		l.events[l.head] = event
		l.head = (l.head + 1) % l.capacity
		return
	}
	l.events[(l.head+l.size)%l.capacity] = event
	l.size++
}

// Len returns the number of retained events.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Capacity returns the configured maximum.
func (l *Ledger) Capacity() int {
	return l.capacity
}

// at returns the i-th retained event, oldest first. Caller holds the lock.
func (l *Ledger) at(i int) models.ActivityEvent {
	return l.events[(l.head+i)%l.capacity]
}

// CountFor returns how many retained events belong to the entity.
func (l *Ledger) CountFor(entity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for i := 0; i < l.size; i++ {
		if l.at(i).Entity == entity {
			count++
		}
	}
	return count
}

// CountInWindow returns how many of the entity's retained events occurred
// strictly after now-window.
func (l *Ledger) CountInWindow(entity string, window time.Duration, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-window)
	count := 0
	for i := 0; i < l.size; i++ {
		ev := l.at(i)
		if ev.Entity == entity && ev.OccurredAt.After(cutoff) {
			count++
		}
	}
	return count
}

// RecentWindow returns the entity's events occurring strictly after
// now-window, oldest first.
func (l *Ledger) RecentWindow(entity string, window time.Duration, now time.Time) []models.ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-window)
	var out []models.ActivityEvent
	for i := 0; i < l.size; i++ {
		ev := l.at(i)
		if ev.Entity == entity && ev.OccurredAt.After(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// TailFor returns up to n most recent events for the entity, oldest first.
func (l *Ledger) TailFor(entity string, n int) []models.ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 {
		return nil
	}
	var out []models.ActivityEvent
	for i := l.size - 1; i >= 0 && len(out) < n; i-- {
		if ev := l.at(i); ev.Entity == entity {
			out = append(out, ev)
		}
	}
	reverse(out)
	return out
}

// Tail returns up to n most recent events overall, oldest first.
func (l *Ledger) Tail(n int) []models.ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 {
		return nil
	}
	if n > l.size {
		n = l.size
	}
	out := make([]models.ActivityEvent, 0, n)
	for i := l.size - n; i < l.size; i++ {
		out = append(out, l.at(i))
	}
	return out
}

// Summarize builds a consistent snapshot of retained activity under a
// single lock acquisition. A non-empty entity restricts the snapshot to
// that entity's events; the empty string covers the whole ledger.
func (l *Ledger) Summarize(entity string) models.ActivitySummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	summary := models.ActivitySummary{
		ByEntity: make(map[string]int),
		ByAction: make(map[string]int),
	}
	var matched []models.ActivityEvent
	for i := 0; i < l.size; i++ {
		ev := l.at(i)
		if entity != "" && ev.Entity != entity {
			continue
		}
		summary.TotalEvents++
		summary.ByEntity[ev.Entity]++
		summary.ByAction[ev.Entity+":"+ev.Action]++
		matched = append(matched, ev)
	}

	n := summaryRecent
	if n > len(matched) {
		n = len(matched)
	}
	summary.Recent = append([]models.ActivityEvent(nil), matched[len(matched)-n:]...)
	return summary
}

func reverse(events []models.ActivityEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
