// Package graph drives the agent state machine: init, event-monitor,
// reasoning, tool-executor, and respond nodes over a single shared
// agent.State. The queue worker hands envelopes in; the driver runs the
// graph until the backlog drains, closing each task's lifecycle on the way
// out.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/events"
	"github.com/davidmiura/tlt-sub000/pkg/gateway"
	"github.com/davidmiura/tlt-sub000/pkg/lifecycle"
	"github.com/davidmiura/tlt-sub000/pkg/llm"
)

// node names the graph vertices. The lifecycle records them verbatim.
type node string

const (
	nodeInit     node = "init"
	nodeMonitor  node = "event-monitor"
	nodeReason   node = "reasoning"
	nodeExecutor node = "tool-executor"
	nodeRespond  node = "respond"
	nodeTerminal node = ""
)

// DefaultRecursionLimit bounds node transitions per run.
const DefaultRecursionLimit = 500

// DefaultContextCacheSize bounds the event-context LRU.
const DefaultContextCacheSize = 256

// ToolCaller is the executor's view of the gateway client.
type ToolCaller interface {
	Call(ctx context.Context, tool string, args map[string]any) (*gateway.Envelope, error)
	Ping(ctx context.Context) error
}

// Options tune the driver.
type Options struct {
	// RecursionLimit caps node transitions in one run; zero takes the
	// default.
	RecursionLimit int

	// ContextCacheSize bounds the event-context LRU; zero takes the
	// default.
	ContextCacheSize int
}

// Driver owns the agent state and runs the graph. One driver serves the
// whole process; runs are serialised by the queue worker.
type Driver struct {
	state   *agent.State
	tracker *lifecycle.Tracker
	reason  llm.Reasoner
	caller  ToolCaller
	outbox  *agent.Outbox

	contexts *lru.Cache[string, *agent.EventContext]

	recursionLimit int
	logger         *slog.Logger
	now            func() time.Time

	maintCancel context.CancelFunc
	maintDone   chan struct{}
}

// NewDriver wires the graph over its collaborators.
func NewDriver(state *agent.State, tracker *lifecycle.Tracker, reasoner llm.Reasoner, caller ToolCaller, outbox *agent.Outbox, opts Options) *Driver {
	if opts.RecursionLimit <= 0 {
		opts.RecursionLimit = DefaultRecursionLimit
	}
	if opts.ContextCacheSize <= 0 {
		opts.ContextCacheSize = DefaultContextCacheSize
	}
	contexts, _ := lru.New[string, *agent.EventContext](opts.ContextCacheSize)
	return &Driver{
		state:          state,
		tracker:        tracker,
		reason:         reasoner,
		caller:         caller,
		outbox:         outbox,
		contexts:       contexts,
		recursionLimit: opts.RecursionLimit,
		logger:         slog.Default().With("component", "agent-graph"),
		now:            time.Now,
	}
}

// State exposes the shared agent state for snapshot readers.
func (d *Driver) State() *agent.State { return d.state }

// ProcessEnvelope enqueues a CloudEvent task and runs the graph until the
// backlog drains. The task's lifecycle reaches a final status before this
// returns, recursion-limit abandonment included.
func (d *Driver) ProcessEnvelope(ctx context.Context, taskID string, env *events.Envelope) error {
	if env == nil {
		return errs.Validation("envelope", "is required")
	}
	payload, err := env.DataMap()
	if err != nil {
		d.tracker.Finalize(taskID, lifecycle.StatusError, string(nodeMonitor), err.Error())
		return err
	}
	d.state.EnqueueEvent(&agent.IncomingEvent{
		ID:        env.ID,
		TaskID:    taskID,
		Trigger:   events.TriggerOf(env.Type),
		Priority:  events.DefaultPriority(env.Type),
		Envelope:  env,
		Payload:   payload,
		CreatedAt: d.now().UTC(),
	})
	return d.Run(ctx)
}

// ProcessPayload enqueues a synthesised (non-CloudEvent) task, typically a
// timer firing, and runs the graph.
func (d *Driver) ProcessPayload(ctx context.Context, taskID string, trigger events.Trigger, payload map[string]any) error {
	d.state.EnqueueEvent(&agent.IncomingEvent{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Trigger:   trigger,
		Priority:  events.PriorityNormal,
		Payload:   payload,
		CreatedAt: d.now().UTC(),
	})
	return d.Run(ctx)
}

// Run executes the graph from init until the pending backlog drains, stop
// is requested, or the recursion limit trips.
func (d *Driver) Run(ctx context.Context) error {
	current := nodeInit
	steps := 0

	for current != nodeTerminal {
		if steps++; steps > d.recursionLimit {
			return d.abandonOverflow()
		}
		if err := ctx.Err(); err != nil {
			d.abandonPending("run cancelled: " + err.Error())
			return errs.Wrap(errs.KindInternal, "graph run cancelled", err)
		}

		switch current {
		case nodeInit:
			current = d.runInit()
		case nodeMonitor:
			current = d.runMonitor()
		case nodeReason:
			current = d.runReasoning(ctx)
		case nodeExecutor:
			current = d.runExecutor(ctx)
		case nodeRespond:
			current = d.runRespond()
		default:
			return errs.New(errs.KindInternal, "unknown graph node "+string(current))
		}
	}

	if !d.state.Stopping() {
		d.state.SetStatus(agent.StatusIdle)
	}
	return nil
}

// runInit transitions a fresh or idle agent into the monitor loop.
func (d *Driver) runInit() node {
	if d.state.Stopping() {
		return nodeTerminal
	}
	d.state.SetStatus(agent.StatusIdle)
	return nodeMonitor
}

// abandonOverflow handles a tripped recursion limit: the current and
// pending tasks are abandoned and the run fails.
func (d *Driver) abandonOverflow() error {
	msg := fmt.Sprintf("recursion limit %d exceeded", d.recursionLimit)
	d.state.RecordError(msg)
	d.state.SetStatus(agent.StatusError)
	d.abandonPending(msg)
	return errs.New(errs.KindInternal, msg)
}

// abandonPending finalises the current event's task and every queued task.
func (d *Driver) abandonPending(details string) {
	d.state.Lock()
	taskIDs := make([]string, 0, len(d.state.PendingEvents)+1)
	if d.state.CurrentEvent != nil && d.state.CurrentEvent.TaskID != "" {
		taskIDs = append(taskIDs, d.state.CurrentEvent.TaskID)
	}
	for _, ev := range d.state.PendingEvents {
		if ev.TaskID != "" {
			taskIDs = append(taskIDs, ev.TaskID)
		}
	}
	d.state.PendingEvents = nil
	d.state.CurrentEvent = nil
	d.state.Unlock()

	for _, taskID := range taskIDs {
		d.tracker.Finalize(taskID, lifecycle.StatusAbandoned, string(nodeMonitor), details)
	}
}
