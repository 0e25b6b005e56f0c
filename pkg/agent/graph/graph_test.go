package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
	"github.com/davidmiura/tlt-sub000/pkg/events"
	"github.com/davidmiura/tlt-sub000/pkg/gateway"
	"github.com/davidmiura/tlt-sub000/pkg/lifecycle"
	"github.com/davidmiura/tlt-sub000/pkg/llm"
)

type fakeReasoner struct {
	mu        sync.Mutex
	decisions []*agent.Decision
	err       error
	requests  []llm.DecisionRequest
}

func (f *fakeReasoner) Decide(_ context.Context, req llm.DecisionRequest) (*agent.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.decisions) == 0 {
		return &agent.Decision{Type: agent.DecisionNoAction, Reasoning: "nothing to do", Confidence: 0.9}, nil
	}
	d := f.decisions[0]
	if len(f.decisions) > 1 {
		f.decisions = f.decisions[1:]
	}
	return d, nil
}

type recordedCall struct {
	Tool string
	Args map[string]any
}

type fakeCaller struct {
	mu      sync.Mutex
	calls   []recordedCall
	results map[string]*gateway.Envelope
	errors  map[string]error
	pingErr error
}

func (f *fakeCaller) Call(_ context.Context, tool string, args map[string]any) (*gateway.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{Tool: tool, Args: args})
	if err, ok := f.errors[tool]; ok {
		return nil, err
	}
	if env, ok := f.results[tool]; ok {
		return env, nil
	}
	return gateway.SuccessEnvelope(tool, "test", map[string]any{}), nil
}

func (f *fakeCaller) Ping(context.Context) error { return f.pingErr }

func (f *fakeCaller) toolNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = c.Tool
	}
	return names
}

type fixture struct {
	driver   *Driver
	state    *agent.State
	tracker  *lifecycle.Tracker
	outbox   *agent.Outbox
	reasoner *fakeReasoner
	caller   *fakeCaller
	now      time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		state:    agent.NewState("agent-test"),
		tracker:  lifecycle.NewTracker(time.Hour),
		outbox:   agent.NewOutbox(),
		reasoner: &fakeReasoner{},
		caller:   &fakeCaller{results: map[string]*gateway.Envelope{}, errors: map[string]error{}},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.driver = NewDriver(f.state, f.tracker, f.reasoner, f.caller, f.outbox, opts)
	f.driver.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) register(t *testing.T, taskID string, env *events.Envelope) {
	t.Helper()
	f.tracker.Register(taskID, env.ID, events.TriggerOf(env.Type), env.Type)
}

func createEventEnvelope(t *testing.T, topic, when string) *events.Envelope {
	t.Helper()
	env, err := events.NewCreateEvent(
		events.EventData{Topic: topic, Location: "Roof Bar", Time: when},
		events.InteractionData{GuildID: "g1", ChannelID: "c1", UserID: "u1", UserName: "ada", MessageID: "m1"},
	)
	require.NoError(t, err)
	return env
}

func TestCreateEventRunsBothToolCalls(t *testing.T) {
	f := newFixture(t, Options{})
	f.reasoner.decisions = []*agent.Decision{{Type: agent.DecisionUseTool, Reasoning: "new event", Confidence: 0.9}}
	f.caller.results["create_event"] = gateway.SuccessEnvelope("create_event", "event-manager", map[string]any{"event_id": "evt-1"})

	env := createEventEnvelope(t, "Summer Launch", "2025-07-01T18:00:00Z")
	f.register(t, "task-1", env)

	require.NoError(t, f.driver.ProcessEnvelope(context.Background(), "task-1", env))

	require.Equal(t, []string{"create_event", "save_event_to_guild_data"}, f.caller.toolNames())

	created := f.caller.calls[0].Args
	assert.Equal(t, "Summer Launch", created["title"])
	assert.Equal(t, "u1", created["created_by"])
	assert.Equal(t, "g1", created["guild_id"])
	assert.Equal(t, "2025-07-01T18:00:00Z", created["start_time"])
	assert.Equal(t, "m1", created["metadata"].(map[string]any)["message_id"])

	saved := f.caller.calls[1].Args
	assert.Equal(t, "evt-1", saved["event_id"])
	assert.Equal(t, "Summer Launch", saved["title"])

	status, final := f.tracker.IsFinal("task-1")
	require.True(t, final)
	assert.Equal(t, lifecycle.StatusCompleted, status)
}

func TestCreateEventWithFreeTextTimeOmitsStartTime(t *testing.T) {
	f := newFixture(t, Options{})
	f.reasoner.decisions = []*agent.Decision{{Type: agent.DecisionUseTool, Confidence: 0.9}}
	f.caller.results["create_event"] = gateway.SuccessEnvelope("create_event", "event-manager", map[string]any{"event_id": "evt-2"})

	env := createEventEnvelope(t, "Game Night", "next friday around 8")
	f.register(t, "task-2", env)

	require.NoError(t, f.driver.ProcessEnvelope(context.Background(), "task-2", env))

	created := f.caller.calls[0].Args
	_, hasStart := created["start_time"]
	assert.False(t, hasStart)
	assert.Contains(t, created["description"], "next friday around 8")
}

func TestRSVPQueuesEventUpdate(t *testing.T) {
	f := newFixture(t, Options{})
	f.reasoner.decisions = []*agent.Decision{{Type: agent.DecisionUseTool, Confidence: 0.9}}
	f.caller.results["process_rsvp"] = gateway.SuccessEnvelope("process_rsvp", "rsvp", map[string]any{
		"event_id": "evt-9", "rsvp_count": float64(3),
	})

	env, err := events.NewRSVPEvent(events.RSVPPayload{
		GuildID: "g1", EventID: "evt-9", UserID: "u2", RSVPType: "add", Emoji: "✅",
	}, "c1")
	require.NoError(t, err)
	f.register(t, "task-3", env)

	require.NoError(t, f.driver.ProcessEnvelope(context.Background(), "task-3", env))

	require.Equal(t, []string{"process_rsvp"}, f.caller.toolNames())
	assert.Equal(t, "✅", f.caller.calls[0].Args["emoji"])

	actions := f.outbox.Drain()
	require.Contains(t, actions, "g1")
	require.Len(t, actions["g1"].EventUpdates, 1)
	assert.Equal(t, "evt-9", actions["g1"].EventUpdates[0].EventID)

	status, final := f.tracker.IsFinal("task-3")
	require.True(t, final)
	assert.Equal(t, lifecycle.StatusCompleted, status)
}

func TestSendMessageReachesOutbox(t *testing.T) {
	f := newFixture(t, Options{})
	f.reasoner.decisions = []*agent.Decision{{
		Type:           agent.DecisionSendMessage,
		Reasoning:      "user asked about the event",
		MessageContent: "The launch is on July 1st at the Roof Bar.",
		Confidence:     0.85,
	}}

	env, err := events.NewEventInfo("evt-1", events.InteractionData{
		GuildID: "g1", ChannelID: "c1", UserID: "u1",
	})
	require.NoError(t, err)
	f.register(t, "task-4", env)

	require.NoError(t, f.driver.ProcessEnvelope(context.Background(), "task-4", env))

	actions := f.outbox.Drain()
	require.Contains(t, actions, "g1")
	require.Len(t, actions["g1"].PendingMessages, 1)
	msg := actions["g1"].PendingMessages[0]
	assert.Equal(t, "c1", msg.ChannelID)
	assert.Equal(t, "The launch is on July 1st at the Roof Bar.", msg.Content)

	lc := f.tracker.Get("task-4")
	require.NotNil(t, lc)
	assert.Equal(t, lifecycle.StatusCompleted, lc.FinalStatus)

	visited := lc.NodesVisited()
	allowed := map[string]bool{"init": true, "event-monitor": true, "reasoning": true, "tool-executor": true, "respond": true}
	for _, n := range visited {
		assert.True(t, allowed[n], "unexpected node %q", n)
	}
	assert.Contains(t, visited, "reasoning")
	assert.Contains(t, visited, "respond")
}

func TestLogOnlyEventCompletesWithoutToolCall(t *testing.T) {
	f := newFixture(t, Options{})
	f.reasoner.decisions = []*agent.Decision{{Type: agent.DecisionUseTool, Confidence: 0.9}}

	env, err := events.NewEventInfo("evt-1", events.InteractionData{
		GuildID: "g1", ChannelID: "c1", UserID: "u1",
	})
	require.NoError(t, err)
	f.register(t, "task-5", env)

	require.NoError(t, f.driver.ProcessEnvelope(context.Background(), "task-5", env))

	assert.Empty(t, f.caller.toolNames())
	status, final := f.tracker.IsFinal("task-5")
	require.True(t, final)
	assert.Equal(t, lifecycle.StatusCompleted, status)
}

func TestReasonerFailureFallsBackToNoAction(t *testing.T) {
	f := newFixture(t, Options{})
	f.reasoner.err = errors.New("model timeout")

	env := createEventEnvelope(t, "Picnic", "")
	f.register(t, "task-6", env)

	require.NoError(t, f.driver.ProcessEnvelope(context.Background(), "task-6", env))

	status, final := f.tracker.IsFinal("task-6")
	require.True(t, final)
	assert.Equal(t, lifecycle.StatusCompleted, status)

	decisions := f.state.LastDecisions(1)
	require.Len(t, decisions, 1)
	assert.Equal(t, agent.DecisionNoAction, decisions[0].Type)
	assert.Equal(t, agent.FallbackConfidence, decisions[0].Confidence)
	assert.NotEmpty(t, f.state.Errors)
}

func TestToolFailureFinalizesError(t *testing.T) {
	f := newFixture(t, Options{})
	f.reasoner.decisions = []*agent.Decision{{Type: agent.DecisionUseTool, Confidence: 0.9}}
	f.caller.results["create_event"] = gateway.FailureEnvelope("create_event", "event-manager", "service unavailable: event-manager", nil)

	env := createEventEnvelope(t, "Launch", "")
	f.register(t, "task-7", env)

	require.NoError(t, f.driver.ProcessEnvelope(context.Background(), "task-7", env))

	status, final := f.tracker.IsFinal("task-7")
	require.True(t, final)
	assert.Equal(t, lifecycle.StatusError, status)

	calls := f.state.LastToolCalls(1)
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Success)
	assert.Contains(t, calls[0].Error, "service unavailable")
}

func TestRecursionLimitAbandonsTask(t *testing.T) {
	f := newFixture(t, Options{RecursionLimit: 2})

	env := createEventEnvelope(t, "Launch", "")
	f.register(t, "task-8", env)

	err := f.driver.ProcessEnvelope(context.Background(), "task-8", env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recursion limit")

	status, final := f.tracker.IsFinal("task-8")
	require.True(t, final)
	assert.Equal(t, lifecycle.StatusAbandoned, status)
	assert.Equal(t, agent.StatusError, f.state.CurrentStatus())
}

func TestCancelledContextAbandonsPending(t *testing.T) {
	f := newFixture(t, Options{})

	env := createEventEnvelope(t, "Launch", "")
	f.register(t, "task-9", env)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.driver.ProcessEnvelope(ctx, "task-9", env)
	require.Error(t, err)

	status, final := f.tracker.IsFinal("task-9")
	require.True(t, final)
	assert.Equal(t, lifecycle.StatusAbandoned, status)
}

func TestScheduleTimerThenFire(t *testing.T) {
	f := newFixture(t, Options{})
	f.reasoner.decisions = []*agent.Decision{
		{Type: agent.DecisionScheduleTimer, TimerType: "reminder", DelayMinutes: 30, Confidence: 0.9},
		{Type: agent.DecisionSendMessage, MessageContent: "Reminder: the launch starts soon!", Confidence: 0.9},
	}

	env := createEventEnvelope(t, "Launch", "2025-07-01T18:00:00Z")
	f.register(t, "task-10", env)
	require.NoError(t, f.driver.ProcessEnvelope(context.Background(), "task-10", env))

	timers := f.state.ActiveTimers()
	require.Len(t, timers, 1)
	assert.Equal(t, "reminder", timers[0].TimerType)
	assert.Equal(t, f.now.Add(30*time.Minute), timers[0].ScheduledAt)

	// Advance past the schedule and run again: the monitor fires the timer
	// inline and the second decision sends the reminder.
	f.now = f.now.Add(31 * time.Minute)
	require.NoError(t, f.driver.Run(context.Background()))

	assert.Empty(t, f.state.ActiveTimers())
	actions := f.outbox.Drain()
	require.Contains(t, actions, "g1")
	require.Len(t, actions["g1"].PendingMessages, 1)
	assert.Equal(t, "Reminder: the launch starts soon!", actions["g1"].PendingMessages[0].Content)
}

func TestExplicitToolDecisionForTimerEvent(t *testing.T) {
	f := newFixture(t, Options{})
	f.reasoner.decisions = []*agent.Decision{{
		Type:     agent.DecisionUseTool,
		ToolName: "get_event_info",
		ToolArgs: map[string]any{"guild_id": "g1", "event_id": "evt-1"},
	}}

	require.NoError(t, f.driver.ProcessPayload(context.Background(), "", events.TriggerTimer, map[string]any{
		"event_id": "evt-1", "guild_id": "g1",
	}))

	require.Equal(t, []string{"get_event_info"}, f.caller.toolNames())
	assert.Equal(t, "evt-1", f.caller.calls[0].Args["event_id"])
}

func TestStartTimeIncludedOnlyForParseableTimes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("start_time present iff the time field parses as RFC 3339", prop.ForAll(
		func(when string) bool {
			args := shapeEventManagerArgs("create_event", map[string]any{
				"event_data":       map[string]any{"topic": "T", "time": when},
				"interaction_data": map[string]any{"guild_id": "g", "user_id": "u", "channel_id": "c"},
				"guild_id":         "g",
			})
			_, parses := args["start_time"]
			_, err := time.Parse(time.RFC3339, when)
			if when == "" {
				return !parses
			}
			return parses == (err == nil)
		},
		gen.OneGenOf(
			gen.AlphaString(),
			gen.OneConstOf(
				"2025-07-01T18:00:00Z",
				"2025-07-01T18:00:00+02:00",
				"2025-13-01T18:00:00Z",
				"tomorrow at noon",
				"2025-07-01",
				"",
			),
		),
	))

	properties.TestingRun(t)
}

func TestMaintenanceRefreshesTimerContexts(t *testing.T) {
	f := newFixture(t, Options{})
	f.caller.results["get_event_info"] = gateway.SuccessEnvelope("get_event_info", "event-manager", map[string]any{
		"title": "Launch", "created_by": "u1",
	})
	f.state.AddTimer(&agent.Timer{
		ID: "t1", EventID: "evt-1", GuildID: "g1", TimerType: "reminder",
		ScheduledAt: f.now.Add(time.Hour), Active: true,
	})

	f.driver.refreshEventContexts(context.Background())

	ec, ok := f.driver.contexts.Get("evt-1")
	require.True(t, ok)
	assert.Equal(t, "Launch", ec.Title)
	assert.Equal(t, "u1", ec.CreatedBy)
	require.NotNil(t, f.state.CachedEventContext("evt-1"))
}

func TestMaintenanceRefreshesDecisionContexts(t *testing.T) {
	f := newFixture(t, Options{})
	f.caller.results["get_event_info"] = gateway.SuccessEnvelope("get_event_info", "event-manager", map[string]any{
		"title": "Retro", "created_by": "u2",
	})
	f.state.RecordDecision(&agent.Decision{
		Type:     agent.DecisionUseTool,
		ToolName: "get_rsvp_status",
		ToolArgs: map[string]any{"event_id": "evt-9", "guild_id": "g1"},
	})

	f.driver.refreshEventContexts(context.Background())

	ec, ok := f.driver.contexts.Get("evt-9")
	require.True(t, ok)
	assert.Equal(t, "Retro", ec.Title)
	assert.Equal(t, "g1", ec.GuildID)
	require.NotNil(t, f.state.CachedEventContext("evt-9"))
}

func TestProbeGatewayTracksConsecutiveFailures(t *testing.T) {
	f := newFixture(t, Options{})
	f.caller.pingErr = errors.New("connection refused")

	failures := 0
	for i := 0; i < degradedAfter; i++ {
		failures = f.driver.probeGateway(context.Background(), failures)
	}
	assert.Equal(t, degradedAfter, failures)
	assert.NotEmpty(t, f.state.Errors)

	f.caller.pingErr = nil
	failures = f.driver.probeGateway(context.Background(), failures)
	assert.Zero(t, failures)
}
