package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/davidmiura/tlt-sub000/pkg/events"
)

// Tracker owns every live lifecycle. Structural changes and entry appends
// share one lock; appends are bounded in rate so contention stays low.
type Tracker struct {
	mu         sync.RWMutex
	lifecycles map[string]*Lifecycle

	abandonAfter time.Duration
	logger       *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTracker creates a tracker that abandons lifecycles older than
// abandonAfter during sweeps.
func NewTracker(abandonAfter time.Duration) *Tracker {
	return &Tracker{
		lifecycles:   make(map[string]*Lifecycle),
		abandonAfter: abandonAfter,
		logger:       slog.Default().With("component", "lifecycle-tracker"),
		stopCh:       make(chan struct{}),
	}
}

// Register creates the lifecycle for a new task and appends the initial
// "received" entry. Registering the same task twice returns the existing
// record unchanged.
func (t *Tracker) Register(taskID, eventID string, trigger events.Trigger, eventType events.Type) *Lifecycle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.lifecycles[taskID]; ok {
		return existing.clone()
	}

	now := time.Now().UTC()
	lc := &Lifecycle{
		TaskID:    taskID,
		EventID:   eventID,
		Trigger:   trigger,
		EventType: eventType,
		CreatedAt: now,
		Entries: []Entry{{
			Timestamp: now,
			Status:    StatusReceived,
			Details:   "task received",
		}},
	}
	t.lifecycles[taskID] = lc
	return lc.clone()
}

// Append records a non-final status transition. Appends to a finalised or
// unknown lifecycle are dropped.
func (t *Tracker) Append(taskID string, status EntryStatus, node, details string, metadata map[string]any) {
	if status.IsFinal() {
		t.Finalize(taskID, status, node, details)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lc, ok := t.lifecycles[taskID]
	if !ok || lc.Final() {
		return
	}
	lc.Entries = append(lc.Entries, Entry{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Node:      node,
		Details:   details,
		Metadata:  metadata,
	})
}

// Finalize sets the terminal status exactly once. Later calls are no-ops, so
// a task never records two final states.
func (t *Tracker) Finalize(taskID string, status EntryStatus, node, details string) {
	if !status.IsFinal() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lc, ok := t.lifecycles[taskID]
	if !ok || lc.Final() {
		return
	}
	now := time.Now().UTC()
	lc.Entries = append(lc.Entries, Entry{
		Timestamp: now,
		Status:    status,
		Node:      node,
		Details:   details,
	})
	lc.FinalStatus = status
	lc.CompletedAt = now
}

// Get returns a deep copy of the lifecycle for taskID, or nil.
func (t *Tracker) Get(taskID string) *Lifecycle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lc, ok := t.lifecycles[taskID]
	if !ok {
		return nil
	}
	return lc.clone()
}

// IsFinal reports whether the lifecycle exists and has terminated.
func (t *Tracker) IsFinal(taskID string) (EntryStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lc, ok := t.lifecycles[taskID]
	if !ok || !lc.Final() {
		return "", false
	}
	return lc.FinalStatus, true
}

// Count returns the number of tracked lifecycles.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.lifecycles)
}

// StartSweeper launches the background abandonment sweep.
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Sweep()
			}
		}
	}()
}

// StopSweeper stops the background sweep. Safe to call multiple times.
func (t *Tracker) StopSweeper() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

// Sweep finalises every non-terminal lifecycle older than the abandonment
// age as abandoned. Returns the number of lifecycles abandoned.
func (t *Tracker) Sweep() int {
	cutoff := time.Now().UTC().Add(-t.abandonAfter)

	t.mu.Lock()
	defer t.mu.Unlock()

	abandoned := 0
	for _, lc := range t.lifecycles {
		if lc.Final() || !lc.CreatedAt.Before(cutoff) {
			continue
		}
		now := time.Now().UTC()
		lc.Entries = append(lc.Entries, Entry{
			Timestamp: now,
			Status:    StatusAbandoned,
			Details:   "exceeded abandonment age",
		})
		lc.FinalStatus = StatusAbandoned
		lc.CompletedAt = now
		abandoned++
	}
	if abandoned > 0 {
		t.logger.Warn("Abandoned stale lifecycles", "count", abandoned)
	}
	return abandoned
}
