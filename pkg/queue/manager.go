// Package queue is the Task Manager: it admits CloudEvents as Agent Tasks,
// rate-limits the front door, orders the backlog by priority, and runs the
// worker that drives each task through the agent graph to a final lifecycle
// status.
package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/events"
	"github.com/davidmiura/tlt-sub000/pkg/lifecycle"
)

// AgentTask is one queued unit of work: a validated CloudEvent plus the
// identity and ordering attributes the manager assigned at admission.
type AgentTask struct {
	ID        string           `json:"task_id"`
	EventID   string           `json:"event_id"`
	Type      events.Type      `json:"event_type"`
	Trigger   events.Trigger   `json:"trigger"`
	Priority  events.Priority  `json:"priority"`
	Envelope  *events.Envelope `json:"-"`
	CreatedAt time.Time        `json:"created_at"`
}

// Processor runs one task through the agent graph. Satisfied by
// *graph.Driver.
type Processor interface {
	ProcessEnvelope(ctx context.Context, taskID string, env *events.Envelope) error
}

// Options tune the manager. Zero values take the defaults.
type Options struct {
	// RateLimitWindow is the sliding admission window.
	RateLimitWindow time.Duration
	// RateLimitMax caps admissions inside one window.
	RateLimitMax int
	// QueueCeiling caps the waiting backlog.
	QueueCeiling int
	// CompletionTimeout bounds how long the worker waits for a task's
	// lifecycle to finalise before abandoning it.
	CompletionTimeout time.Duration
	// PollInterval is the lifecycle completion poll cadence.
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = time.Minute
	}
	if o.RateLimitMax <= 0 {
		o.RateLimitMax = 30
	}
	if o.QueueCeiling <= 0 {
		o.QueueCeiling = 100
	}
	if o.CompletionTimeout <= 0 {
		o.CompletionTimeout = 500 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	return o
}

// completedCacheSize bounds the finished-task cache used by status lookups.
const completedCacheSize = 1000

// Manager owns the task queue and its worker.
type Manager struct {
	mu       sync.Mutex
	backlog  []*AgentTask
	tasks    map[string]*AgentTask
	admitted []time.Time

	processor Processor
	state     *agent.State
	tracker   *lifecycle.Tracker
	outbox    *agent.Outbox
	completed *lru.Cache[string, lifecycle.EntryStatus]

	opts    Options
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	startedAt time.Time
	notify    chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewManager wires the task manager over the graph driver and its shared
// collaborators. reg receives the queue metrics; pass a private registry in
// tests.
func NewManager(processor Processor, state *agent.State, tracker *lifecycle.Tracker, outbox *agent.Outbox, reg prometheus.Registerer, opts Options) *Manager {
	m := &Manager{
		backlog:   nil,
		tasks:     make(map[string]*AgentTask),
		processor: processor,
		state:     state,
		tracker:   tracker,
		outbox:    outbox,
		opts:      opts.withDefaults(),
		logger:    slog.Default().With("component", "task-manager"),
		now:       time.Now,
		startedAt: time.Now().UTC(),
		notify:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	m.completed, _ = lru.New[string, lifecycle.EntryStatus](completedCacheSize)
	m.metrics = newMetrics(reg,
		func() float64 { return float64(m.Depth()) },
		func() float64 { return time.Since(m.startedAt).Seconds() },
	)
	return m
}

// Submit validates and admits one CloudEvent as an Agent Task. The envelope
// is normalised in place. Admission failures return before any lifecycle is
// registered.
func (m *Manager) Submit(env *events.Envelope) (*AgentTask, error) {
	if env == nil {
		return nil, errs.Validation("envelope", "is required")
	}
	env.Normalize()
	if err := env.Validate(); err != nil {
		return nil, err
	}

	now := m.now().UTC()

	m.mu.Lock()
	m.pruneWindowLocked(now)
	if len(m.admitted) >= m.opts.RateLimitMax {
		m.mu.Unlock()
		m.metrics.rateLimitHits.Inc()
		return nil, errs.RateLimited("task admission rate exceeded, try again shortly")
	}
	if len(m.backlog) >= m.opts.QueueCeiling {
		m.mu.Unlock()
		m.metrics.rateLimitHits.Inc()
		return nil, errs.RateLimited("task queue is full, try again shortly")
	}

	task := &AgentTask{
		ID:        uuid.NewString(),
		EventID:   env.ID,
		Type:      env.Type,
		Trigger:   events.TriggerOf(env.Type),
		Priority:  events.DefaultPriority(env.Type),
		Envelope:  env,
		CreatedAt: now,
	}
	m.admitted = append(m.admitted, now)

	// The lifecycle must exist before the worker can see the task, so the
	// queued entry always precedes the processing entry.
	m.tracker.Register(task.ID, task.EventID, task.Trigger, task.Type)
	m.tracker.Append(task.ID, lifecycle.StatusQueued, "", "queued at priority "+string(task.Priority), nil)

	m.tasks[task.ID] = task
	m.backlog = append(m.backlog, task)
	m.mu.Unlock()

	m.metrics.tasksReceived.Inc()
	m.logger.Info("Task admitted", "task_id", task.ID, "event_type", task.Type, "priority", task.Priority)

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return task, nil
}

// pruneWindowLocked drops admissions older than the sliding window.
func (m *Manager) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-m.opts.RateLimitWindow)
	keep := m.admitted[:0]
	for _, t := range m.admitted {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	m.admitted = keep
}

// dequeue pops the highest-priority task; creation order breaks ties.
func (m *Manager) dequeue() *AgentTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.backlog) == 0 {
		return nil
	}
	best := 0
	for i, task := range m.backlog {
		if task.Priority.Rank() > m.backlog[best].Priority.Rank() {
			best = i
		}
	}
	task := m.backlog[best]
	m.backlog = append(m.backlog[:best], m.backlog[best+1:]...)
	return task
}

// Depth reports the waiting backlog size.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backlog)
}

// DefaultListLimit caps a listing when the caller gives no limit.
const DefaultListLimit = 50

// List returns in-flight tasks ordered by priority then creation time. An
// empty status returns every task; otherwise only tasks whose latest
// lifecycle entry matches. limit <= 0 takes DefaultListLimit.
func (m *Manager) List(status lifecycle.EntryStatus, limit int) []*AgentTask {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	m.mu.Lock()
	out := make([]*AgentTask, 0, len(m.tasks))
	for _, task := range m.tasks {
		out = append(out, task)
	}
	m.mu.Unlock()

	if status != "" {
		kept := out[:0]
		for _, task := range out {
			if m.currentStatus(task.ID) == status {
				kept = append(kept, task)
			}
		}
		out = kept
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// currentStatus reports the latest lifecycle status for a task.
func (m *Manager) currentStatus(taskID string) lifecycle.EntryStatus {
	lc := m.tracker.Get(taskID)
	if lc == nil || len(lc.Entries) == 0 {
		return ""
	}
	return lc.Entries[len(lc.Entries)-1].Status
}

// forget drops a finished task from the in-flight set.
func (m *Manager) forget(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
}

// Tracked reports the number of lifecycles the tracker holds.
func (m *Manager) Tracked() int {
	return m.tracker.Count()
}

// Uptime reports how long the manager has been running.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startedAt)
}

// Status returns the lifecycle for a task id, live or finished. Nil when the
// task was never admitted.
func (m *Manager) Status(taskID string) *lifecycle.Lifecycle {
	return m.tracker.Get(taskID)
}

// FinalStatus reports the cached final status of a finished task.
func (m *Manager) FinalStatus(taskID string) (lifecycle.EntryStatus, bool) {
	if status, ok := m.completed.Get(taskID); ok {
		return status, true
	}
	return m.tracker.IsFinal(taskID)
}

// SystemSnapshot is the observer view served by the monitoring API: the
// agent state plus the drained chat actions keyed by guild under
// agent_state_by_guild.
type SystemSnapshot struct {
	Agent       *agent.StateSnapshot           `json:"agent"`
	Actions     map[string]*agent.GuildActions `json:"agent_state_by_guild"`
	QueueDepth  int                            `json:"queue_depth"`
	TrackedJobs int                            `json:"tracked_tasks"`
	Uptime      string                         `json:"uptime"`
}

// Snapshot captures the agent state and drains the outbox. Draining is the
// delivery handoff: the chat adapter owns whatever this returns.
func (m *Manager) Snapshot() *SystemSnapshot {
	return &SystemSnapshot{
		Agent:       m.state.Snapshot(),
		Actions:     m.outbox.Drain(),
		QueueDepth:  m.Depth(),
		TrackedJobs: m.tracker.Count(),
		Uptime:      time.Since(m.startedAt).Round(time.Second).String(),
	}
}
