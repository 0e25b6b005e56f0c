package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
	"github.com/davidmiura/tlt-sub000/pkg/lifecycle"
)

// runExecutor drains queued tool requests through the gateway, records each
// call, and finalises the owning task. Queued outbound messages route the
// graph through respond on the way back to the monitor.
func (d *Driver) runExecutor(ctx context.Context) node {
	requests := d.state.DrainToolRequests()

	for _, req := range requests {
		taskID := req.TaskID()
		if taskID != "" {
			d.tracker.Append(taskID, lifecycle.StatusInExecutor, string(nodeExecutor), req.Action, nil)
		}
		d.executeRequest(ctx, req)
	}

	d.state.Lock()
	d.state.CurrentEvent = nil
	d.state.Unlock()

	if d.state.PendingMessageCount() > 0 {
		return nodeRespond
	}
	return nodeMonitor
}

// executeRequest shapes the arguments for the target service, invokes the
// tool, and applies follow-on effects (guild-data save after create, embed
// refresh after RSVP and event updates).
func (d *Driver) executeRequest(ctx context.Context, req *agent.ToolRequest) {
	args := shapeArguments(req.Service, req.Action, req.Arguments)
	env, err := d.caller.Call(ctx, req.Action, args)

	call := &agent.ToolCall{
		Tool:      req.Action,
		Service:   req.Service,
		Arguments: args,
		TaskID:    req.TaskID(),
		Timestamp: d.now().UTC(),
	}
	taskID := req.TaskID()

	if err != nil {
		call.Success = false
		call.Error = err.Error()
		d.state.RecordToolCall(call)
		d.state.RecordError("tool call " + req.Action + " failed: " + err.Error())
		if taskID != "" {
			d.tracker.Finalize(taskID, lifecycle.StatusError, string(nodeExecutor), err.Error())
		}
		return
	}

	call.Success = env.Success
	call.Error = env.Error
	call.Result = env.Result
	d.state.RecordToolCall(call)

	if !env.Success {
		d.logger.Warn("Tool returned failure", "tool", req.Action, "service", req.Service, "error", env.Error)
		if taskID != "" {
			d.tracker.Finalize(taskID, lifecycle.StatusError, string(nodeExecutor), env.Error)
		}
		return
	}

	d.applyFollowOn(ctx, req, args, env.Result)
	if taskID != "" {
		d.tracker.Finalize(taskID, lifecycle.StatusCompleted, string(nodeExecutor), req.Action+" succeeded")
	}
}

// applyFollowOn runs the second-order effects of a successful call.
func (d *Driver) applyFollowOn(ctx context.Context, req *agent.ToolRequest, args, result map[string]any) {
	switch req.Action {
	case "create_event":
		d.saveCreatedEvent(ctx, req, args, result)
	case "process_rsvp", "update_event":
		d.queueEventUpdate(req, args, result)
	}
}

// saveCreatedEvent persists the freshly created event to guild data, using
// the event id the manager assigned. Failure is recorded but does not fail
// the task: the event itself exists.
func (d *Driver) saveCreatedEvent(ctx context.Context, req *agent.ToolRequest, args, result map[string]any) {
	eventID := stringField(result, "event_id")
	if eventID == "" {
		eventID = req.EventID
	}
	if eventID == "" {
		return
	}

	saveArgs := map[string]any{
		"guild_id":   args["guild_id"],
		"event_id":   eventID,
		"created_by": args["created_by"],
	}
	for _, k := range []string{"title", "description", "location", "start_time", "metadata"} {
		if v, ok := args[k]; ok {
			saveArgs[k] = v
		}
	}

	env, err := d.caller.Call(ctx, "save_event_to_guild_data", saveArgs)
	call := &agent.ToolCall{
		Tool:      "save_event_to_guild_data",
		Service:   agent.ServiceEventManager,
		Arguments: saveArgs,
		TaskID:    req.TaskID(),
		Timestamp: d.now().UTC(),
	}
	switch {
	case err != nil:
		call.Error = err.Error()
		d.state.RecordError("guild-data save failed: " + err.Error())
	case !env.Success:
		call.Error = env.Error
		d.state.RecordError("guild-data save failed: " + env.Error)
	default:
		call.Success = true
		call.Result = env.Result
		d.contexts.Add(eventID, &agent.EventContext{
			EventID:   eventID,
			GuildID:   stringField(args, "guild_id"),
			Title:     stringField(args, "title"),
			CreatedBy: stringField(args, "created_by"),
			Fetched:   d.now().UTC(),
		})
	}
	d.state.RecordToolCall(call)
}

// queueEventUpdate asks the chat adapter to refresh the announcement embed
// after state-changing RSVP and event edits.
func (d *Driver) queueEventUpdate(req *agent.ToolRequest, args, result map[string]any) {
	guildID := stringField(args, "guild_id")
	eventID := stringField(result, "event_id")
	if eventID == "" {
		eventID = stringField(args, "event_id")
	}
	if guildID == "" || eventID == "" {
		return
	}
	d.outbox.PutEventUpdate(guildID, agent.EventUpdate{
		ID:        uuid.NewString(),
		EventID:   eventID,
		MessageID: stringField(result, "message_id"),
		Fields:    result,
		CreatedAt: d.now().UTC(),
	})
}

// shapeArguments normalises the analysis-table arguments into the flat
// shape each backend expects. Unknown services forward as-is minus the
// routing key.
func shapeArguments(service, action string, in map[string]any) map[string]any {
	switch service {
	case agent.ServiceEventManager:
		return shapeEventManagerArgs(action, in)
	default:
		out := make(map[string]any, len(in))
		for k, v := range in {
			if k == "action" {
				continue
			}
			out[k] = v
		}
		return out
	}
}

// shapeEventManagerArgs flattens nested event_data and interaction_data
// blocks into the manager's flat tool parameters. The free-text time field
// only becomes start_time when it parses as ISO-8601; otherwise it stays in
// the description so nothing is lost.
func shapeEventManagerArgs(action string, in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch k {
		case "event_data", "interaction_data", "action":
		default:
			out[k] = v
		}
	}

	interaction, _ := in["interaction_data"].(map[string]any)
	if interaction != nil {
		if v := stringField(interaction, "guild_id"); v != "" {
			out["guild_id"] = v
		}
		if v := stringField(interaction, "user_id"); v != "" {
			out["created_by"] = v
		}
		meta := map[string]any{}
		for _, k := range []string{"channel_id", "message_id", "thread_id", "user_name"} {
			if v := stringField(interaction, k); v != "" {
				meta[k] = v
			}
		}
		if len(meta) > 0 {
			out["metadata"] = meta
		}
	}

	data, _ := in["event_data"].(map[string]any)
	if data != nil {
		if v := stringField(data, "topic"); v != "" {
			out["title"] = v
		}
		location := stringField(data, "location")
		if location != "" {
			out["location"] = location
		}
		when := stringField(data, "time")
		if when != "" {
			if _, err := time.Parse(time.RFC3339, when); err == nil {
				out["start_time"] = when
			}
		}
		if desc := composeDescription(location, when); desc != "" {
			out["description"] = desc
		}
		if v := stringField(data, "event_id"); v != "" {
			out["event_id"] = v
		} else if v := stringField(data, "message_id"); v != "" && out["event_id"] == nil {
			out["event_id"] = v
		}
	}

	if action == "update_event" {
		delete(out, "created_by")
	}
	return out
}

func composeDescription(location, when string) string {
	switch {
	case location != "" && when != "":
		return location + " at " + when
	case location != "":
		return location
	default:
		return when
	}
}
