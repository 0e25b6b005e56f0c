package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kaptinlin/jsonrepair"
	openai "github.com/sashabaranov/go-openai"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/events"
)

// ChatClient is the subset of the go-openai client the adapter uses.
// Narrowing the dependency keeps tests free of HTTP.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client      ChatClient
	Model       string
	VisionModel string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAI implements Client via the Chat Completions API with forced
// function calls as the structured-output mechanism.
type OpenAI struct {
	chat        ChatClient
	model       string
	visionModel string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

// New builds the adapter from options.
func New(opts Options) (*OpenAI, error) {
	if opts.Client == nil {
		return nil, errs.New(errs.KindInternal, "openai client is required")
	}
	if opts.Model == "" {
		return nil, errs.New(errs.KindInternal, "model is required")
	}
	visionModel := opts.VisionModel
	if visionModel == "" {
		visionModel = opts.Model
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		chat:        opts.Client,
		model:       opts.Model,
		visionModel: visionModel,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     timeout,
		logger:      slog.Default().With("component", "llm"),
	}, nil
}

// NewFromAPIKey constructs the adapter with the default go-openai client.
func NewFromAPIKey(apiKey string, opts Options) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errs.New(errs.KindInternal, "api key is required")
	}
	opts.Client = openai.NewClient(apiKey)
	return New(opts)
}

// decisionWire is the tool-call argument shape for AgentReasoningDecision.
type decisionWire struct {
	DecisionType   string         `json:"decision_type"`
	Reasoning      string         `json:"reasoning"`
	Confidence     float64        `json:"confidence"`
	MessageContent string         `json:"message_content"`
	TargetChannel  string         `json:"target_channel"`
	TimerType      string         `json:"timer_type"`
	DelayMinutes   int            `json:"delay_minutes"`
	ToolName       string         `json:"tool_name"`
	ToolArgs       map[string]any `json:"tool_args"`
	Priority       string         `json:"priority"`
}

// Decide invokes the reasoning model bound to the AgentReasoningDecision
// tool. Absent or unparseable tool invocations degrade to a no-action
// decision with the anomaly recorded; transport failures return errors.
func (o *OpenAI) Decide(ctx context.Context, req DecisionRequest) (*agent.Decision, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.chat.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        DecisionToolName,
				Description: "Record the agent's decision for the current event",
				Parameters:  decisionSchema,
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: DecisionToolName},
		},
	})
	if err != nil {
		return nil, classifyTransport("reasoning call", err)
	}

	args, ok := firstToolCall(resp, DecisionToolName)
	if !ok {
		o.logger.Warn("Model produced no decision tool invocation, falling back to no-action")
		return agent.NoActionFallback("model produced no tool invocation"), nil
	}

	var wire decisionWire
	if err := unmarshalRepaired(args, &wire); err != nil {
		o.logger.Warn("Decision arguments unparseable, falling back to no-action", "error", err)
		return agent.NoActionFallback("decision arguments unparseable: " + err.Error()), nil
	}

	decision := &agent.Decision{
		Type:           agent.DecisionType(wire.DecisionType),
		Reasoning:      wire.Reasoning,
		Confidence:     clamp01(wire.Confidence),
		MessageContent: wire.MessageContent,
		TargetChannel:  wire.TargetChannel,
		TimerType:      wire.TimerType,
		DelayMinutes:   wire.DelayMinutes,
		ToolName:       wire.ToolName,
		ToolArgs:       wire.ToolArgs,
		Priority:       parsePriority(wire.Priority),
		Timestamp:      time.Now().UTC(),
	}
	if !agent.ValidDecisionType(decision.Type) {
		o.logger.Warn("Model returned unknown decision type", "decision_type", wire.DecisionType)
		return agent.NoActionFallback("unknown decision type " + wire.DecisionType), nil
	}
	return decision, nil
}

// CompareImages invokes the vision model bound to the PhotoVibeCheckResult
// tool. The submitted image leads; each reference follows with its label.
func (o *OpenAI) CompareImages(ctx context.Context, req VisionRequest) (*Verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: req.UserPrompt,
	}}
	for _, img := range req.Images {
		parts = append(parts,
			openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: img.Label + ":",
			},
			openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL(img),
					Detail: openai.ImageURLDetailAuto,
				},
			},
		)
	}

	resp, err := o.chat.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:     o.visionModel,
		MaxTokens: o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        VerdictToolName,
				Description: "Record the vibe-check verdict for the submitted photo",
				Parameters:  verdictSchema,
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: VerdictToolName},
		},
	})
	if err != nil {
		return nil, classifyTransport("vibe-check call", err)
	}

	args, ok := firstToolCall(resp, VerdictToolName)
	if !ok {
		return zeroVerdict("model produced no verdict tool invocation"), nil
	}
	var verdict Verdict
	if err := unmarshalRepaired(args, &verdict); err != nil {
		return zeroVerdict("verdict arguments unparseable: " + err.Error()), nil
	}
	verdict.VibeScore = clamp01(verdict.VibeScore)
	verdict.ConfidenceScore = clamp01(verdict.ConfidenceScore)
	return &verdict, nil
}

// firstToolCall extracts the arguments of the first invocation of the named
// tool from the response.
func firstToolCall(resp openai.ChatCompletionResponse, name string) (string, bool) {
	for _, choice := range resp.Choices {
		for _, tc := range choice.Message.ToolCalls {
			if tc.Function.Name == name {
				return tc.Function.Arguments, true
			}
		}
	}
	return "", false
}

// unmarshalRepaired decodes tool-call JSON, attempting jsonrepair when the
// raw arguments do not parse. Models occasionally emit truncated or
// single-quoted JSON; repair recovers most of it.
func unmarshalRepaired(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return errs.Parse("tool-call arguments are not JSON", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return errs.Parse("repaired tool-call arguments still do not parse", err)
	}
	return nil
}

func zeroVerdict(reason string) *Verdict {
	return &Verdict{Reasoning: reason}
}

func classifyTransport(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.UpstreamTimeout(op, err)
	}
	return errs.Upstream(op, err)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func dataURL(img ImageInput) string {
	mime := img.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// parsePriority maps the wire priority string, tolerating absence.
func parsePriority(p string) events.Priority {
	switch p {
	case "low", "normal", "high", "urgent":
		return events.Priority(p)
	default:
		return ""
	}
}
