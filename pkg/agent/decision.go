package agent

import (
	"time"

	"github.com/davidmiura/tlt-sub000/pkg/events"
)

// DecisionType names one of the actions the reasoning node may take.
type DecisionType string

const (
	DecisionSendMessage    DecisionType = "send-message"
	DecisionScheduleTimer  DecisionType = "schedule-timer"
	DecisionUseTool        DecisionType = "use-tool"
	DecisionNoAction       DecisionType = "no-action"
	DecisionUpdateEvent    DecisionType = "update-event"
	DecisionCreateReminder DecisionType = "create-reminder"
)

// DecisionTypes lists the closed set in declaration order, for prompt
// composition and schema validation.
var DecisionTypes = []DecisionType{
	DecisionSendMessage,
	DecisionScheduleTimer,
	DecisionUseTool,
	DecisionNoAction,
	DecisionUpdateEvent,
	DecisionCreateReminder,
}

// ValidDecisionType reports membership in the closed set.
func ValidDecisionType(t DecisionType) bool {
	for _, known := range DecisionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Decision is the structured output of one reasoning pass. Optional fields
// apply per type: message content and target channel for send-message,
// timer type and delay for schedule-timer, tool name and arguments for
// use-tool.
type Decision struct {
	Type       DecisionType    `json:"decision_type"`
	Reasoning  string          `json:"reasoning"`
	Confidence float64         `json:"confidence"`
	Priority   events.Priority `json:"priority,omitempty"`

	MessageContent string `json:"message_content,omitempty"`
	TargetChannel  string `json:"target_channel,omitempty"`

	TimerType    string `json:"timer_type,omitempty"`
	DelayMinutes int    `json:"delay_minutes,omitempty"`

	ToolName string         `json:"tool_name,omitempty"`
	ToolArgs map[string]any `json:"tool_args,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// FallbackConfidence is assigned to synthesised no-action decisions when the
// model produced no parseable output.
const FallbackConfidence = 0.1

// NoActionFallback builds the degraded decision used when the model output
// is absent or unparseable. The anomaly is preserved in the reasoning text.
func NoActionFallback(reason string) *Decision {
	return &Decision{
		Type:       DecisionNoAction,
		Reasoning:  reason,
		Confidence: FallbackConfidence,
		Timestamp:  time.Now().UTC(),
	}
}
