package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
	"github.com/davidmiura/tlt-sub000/pkg/agent/prompt"
	"github.com/davidmiura/tlt-sub000/pkg/gateway"
	"github.com/davidmiura/tlt-sub000/pkg/lifecycle"
	"github.com/davidmiura/tlt-sub000/pkg/llm"
)

// runReasoning takes the next pending event, asks the model for exactly one
// decision, executes it against the state, and routes by decision type.
func (d *Driver) runReasoning(ctx context.Context) node {
	ev := d.state.DequeueEvent()
	if ev == nil {
		return nodeMonitor
	}

	d.state.Lock()
	d.state.CurrentEvent = ev
	d.state.Status = agent.StatusProcessing
	d.state.Unlock()

	if ev.TaskID != "" {
		d.tracker.Append(ev.TaskID, lifecycle.StatusInReasoning, string(nodeReason), "", nil)
	}

	decision := d.decide(ctx, ev)
	decision.Timestamp = d.now().UTC()
	d.state.RecordDecision(decision)
	d.state.MarkProcessed(ev.ID)

	switch decision.Type {
	case agent.DecisionUseTool:
		if d.queueToolRequest(ev, decision) {
			return nodeExecutor
		}
		d.closeTask(ev, lifecycle.StatusCompleted, string(nodeReason), "log-only event, no tool call")
		return nodeMonitor

	case agent.DecisionSendMessage:
		d.queueOutboundMessage(ev, decision)
		return nodeRespond

	case agent.DecisionCreateReminder:
		d.scheduleTimerFromDecision(ev, decision, "reminder")
		d.queueOutboundMessage(ev, decision)
		return nodeRespond

	case agent.DecisionScheduleTimer:
		d.scheduleTimerFromDecision(ev, decision, decision.TimerType)
		d.closeTask(ev, lifecycle.StatusCompleted, string(nodeReason), "timer scheduled")
		return nodeMonitor

	default:
		// no-action and update-event observe without side effects.
		d.logger.Info("Decision without follow-up", "decision_type", decision.Type, "reasoning", decision.Reasoning)
		d.closeTask(ev, lifecycle.StatusCompleted, string(nodeReason), string(decision.Type))
		return nodeMonitor
	}
}

// decide runs the model. Transport failures degrade to the no-action
// fallback so the graph keeps moving.
func (d *Driver) decide(ctx context.Context, ev *agent.IncomingEvent) *agent.Decision {
	decision, err := d.reason.Decide(ctx, llm.DecisionRequest{
		SystemPrompt: prompt.System(),
		UserPrompt:   prompt.User(d.state, ev),
	})
	if err != nil {
		d.state.RecordError("reasoning call failed: " + err.Error())
		d.logger.Warn("Reasoning call failed, falling back to no-action", "error", err)
		return agent.NoActionFallback("model call failed: " + err.Error())
	}
	return decision
}

// queueToolRequest converts a use-tool decision into a pending request for
// the executor. Returns false when the analysis marks the event log-only
// and the decision names no explicit tool either.
func (d *Driver) queueToolRequest(ev *agent.IncomingEvent, decision *agent.Decision) bool {
	req := d.analyzeRequest(ev, decision)
	if req == nil {
		return false
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	if ev.TaskID != "" {
		req.Metadata["task_id"] = ev.TaskID
	}
	d.state.QueueToolRequest(req)
	return true
}

// analyzeRequest builds the tool request: envelope-backed events go through
// the fixed analysis table; synthesised events fall back to the decision's
// explicit tool name.
func (d *Driver) analyzeRequest(ev *agent.IncomingEvent, decision *agent.Decision) *agent.ToolRequest {
	if ev.Envelope != nil {
		rec := agent.Analyze(ev.Envelope.Type, ev.Payload)
		if rec.LogOnly {
			return nil
		}
		return &agent.ToolRequest{
			Service:   rec.Service,
			Action:    rec.Action,
			Arguments: rec.Arguments,
			Priority:  ev.Priority,
			EventID:   payloadEventID(ev.Payload),
		}
	}

	if decision.ToolName == "" {
		return nil
	}
	service, ok := serviceForTool(decision.ToolName)
	if !ok {
		d.state.RecordError("decision named unknown tool " + decision.ToolName)
		return nil
	}
	args := decision.ToolArgs
	if args == nil {
		args = map[string]any{}
	}
	return &agent.ToolRequest{
		Service:   service,
		Action:    decision.ToolName,
		Arguments: args,
		Priority:  ev.Priority,
		EventID:   payloadEventID(ev.Payload),
	}
}

// queueOutboundMessage appends a pending message for the respond node.
func (d *Driver) queueOutboundMessage(ev *agent.IncomingEvent, decision *agent.Decision) {
	content := decision.MessageContent
	if content == "" {
		content = decision.Reasoning
	}
	msg := &agent.PendingMessage{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedAt: d.now().UTC(),
	}
	if ev.ChatContext != nil {
		msg.GuildID = ev.ChatContext.GuildID
		msg.ChannelID = ev.ChatContext.ChannelID
	}
	if decision.TargetChannel != "" {
		msg.ChannelID = decision.TargetChannel
	}
	d.state.QueueMessage(msg)
}

// scheduleTimerFromDecision registers a timer at now + delay-minutes.
func (d *Driver) scheduleTimerFromDecision(ev *agent.IncomingEvent, decision *agent.Decision, timerType string) {
	delay := decision.DelayMinutes
	if delay <= 0 {
		delay = 1
	}
	timer := &agent.Timer{
		ID:          uuid.NewString(),
		EventID:     payloadEventID(ev.Payload),
		TimerType:   timerType,
		ScheduledAt: d.now().UTC().Add(time.Duration(delay) * time.Minute),
		Priority:    ev.Priority,
		Active:      true,
	}
	if ev.ChatContext != nil {
		timer.GuildID = ev.ChatContext.GuildID
		timer.ChannelID = ev.ChatContext.ChannelID
	}
	d.state.AddTimer(timer)
	d.logger.Info("Timer scheduled", "timer_id", timer.ID, "timer_type", timerType, "fires_at", timer.ScheduledAt)
}

// closeTask finalises the current event's lifecycle and clears it from the
// state.
func (d *Driver) closeTask(ev *agent.IncomingEvent, status lifecycle.EntryStatus, node, details string) {
	if ev.TaskID != "" {
		d.tracker.Finalize(ev.TaskID, status, node, details)
	}
	d.state.Lock()
	if d.state.CurrentEvent == ev {
		d.state.CurrentEvent = nil
	}
	d.state.Unlock()
}

// serviceForTool resolves a tool name through the gateway registry.
func serviceForTool(tool string) (string, bool) {
	for service, tools := range gateway.ServiceTools {
		for _, t := range tools {
			if t == tool {
				return service, true
			}
		}
	}
	return "", false
}
