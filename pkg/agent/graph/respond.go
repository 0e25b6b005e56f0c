package graph

import (
	"github.com/davidmiura/tlt-sub000/pkg/agent"
	"github.com/davidmiura/tlt-sub000/pkg/lifecycle"
)

// runRespond drains pending messages into the outbox for the chat adapter
// and closes the current task. Messages addressed to a user become DMs;
// everything else is a channel message.
func (d *Driver) runRespond() node {
	d.state.Lock()
	current := d.state.CurrentEvent
	d.state.CurrentEvent = nil
	d.state.Unlock()

	taskID := ""
	if current != nil {
		taskID = current.TaskID
	}
	if taskID != "" {
		d.tracker.Append(taskID, lifecycle.StatusInRespond, string(nodeRespond), "", nil)
	}

	delivered := 0
	for _, msg := range d.state.DrainMessages() {
		if msg.Content == "" {
			continue
		}
		if msg.UserID != "" {
			d.outbox.PutNotification(msg.GuildID, agent.UserNotification{
				ID:        msg.ID,
				UserID:    msg.UserID,
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			})
		} else {
			d.outbox.PutMessage(msg.GuildID, agent.OutboundMessage{
				ID:        msg.ID,
				ChannelID: msg.ChannelID,
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			})
		}
		delivered++
	}
	if delivered > 0 {
		d.logger.Info("Messages queued for delivery", "count", delivered)
	}

	if taskID != "" {
		if _, final := d.tracker.IsFinal(taskID); !final {
			d.tracker.Finalize(taskID, lifecycle.StatusCompleted, string(nodeRespond), "response queued")
		}
	}

	if d.state.Stopping() {
		return nodeTerminal
	}
	return nodeMonitor
}
