package llm

import "encoding/json"

// Tool schema names. The model is forced to call exactly one of these per
// request, which is what makes the output parse deterministic.
const (
	DecisionToolName = "AgentReasoningDecision"
	VerdictToolName  = "PhotoVibeCheckResult"
)

// decisionSchema mirrors agent.Decision field for field.
var decisionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "decision_type": {
      "type": "string",
      "enum": ["send-message", "schedule-timer", "use-tool", "no-action", "update-event", "create-reminder"],
      "description": "The action to take for the current event"
    },
    "reasoning": {
      "type": "string",
      "description": "Why this decision was made"
    },
    "confidence": {
      "type": "number",
      "minimum": 0,
      "maximum": 1,
      "description": "Confidence in the decision"
    },
    "message_content": {
      "type": "string",
      "description": "Message text, required for send-message"
    },
    "target_channel": {
      "type": "string",
      "description": "Channel id for send-message"
    },
    "timer_type": {
      "type": "string",
      "description": "Timer tag, required for schedule-timer"
    },
    "delay_minutes": {
      "type": "integer",
      "minimum": 1,
      "description": "Timer delay, required for schedule-timer"
    },
    "tool_name": {
      "type": "string",
      "description": "Service tag for use-tool (event-manager, rsvp, guild-manager, photo-vibe-check, vibe-canvas)"
    },
    "tool_args": {
      "type": "object",
      "description": "Arguments to forward for use-tool"
    },
    "priority": {
      "type": "string",
      "enum": ["low", "normal", "high", "urgent"]
    }
  },
  "required": ["decision_type", "reasoning", "confidence"]
}`)

// verdictSchema mirrors the Verdict struct.
var verdictSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "vibe_score": {
      "type": "number",
      "minimum": 0,
      "maximum": 1,
      "description": "How well the photo matches the event vibe"
    },
    "confidence_score": {
      "type": "number",
      "minimum": 0,
      "maximum": 1,
      "description": "Confidence in the score"
    },
    "vibe_analysis": {
      "type": "string",
      "description": "Prose analysis of the submitted photo"
    },
    "promotional_match": {
      "type": "string",
      "description": "How the photo relates to the promotional references"
    },
    "reasoning": {
      "type": "string",
      "description": "Why the scores were assigned"
    }
  },
  "required": ["vibe_score", "confidence_score", "vibe_analysis", "promotional_match", "reasoning"]
}`)
