package gateway

import (
	"encoding/json"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
)

// Envelope is the uniform result every gateway tool returns, success or
// failure. It travels as the JSON text content of the MCP tool result, so
// the protocol layer always reports success and callers branch on the
// Success field.
type Envelope struct {
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Service    string         `json:"service"`
	Timestamp  string         `json:"timestamp"`
}

// SuccessEnvelope wraps a backend result.
func SuccessEnvelope(tool, service string, result map[string]any) *Envelope {
	return &Envelope{
		Success:   true,
		Result:    result,
		Tool:      tool,
		Service:   service,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// FailureEnvelope wraps a semantic failure, echoing the parameters so the
// caller can correlate.
func FailureEnvelope(tool, service, errMsg string, params map[string]any) *Envelope {
	return &Envelope{
		Success:    false,
		Error:      errMsg,
		Tool:       tool,
		Parameters: params,
		Service:    service,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// ToResult encodes the envelope as an MCP tool result. Encoding failures
// degrade to a minimal failure payload; the protocol call still succeeds.
func (e *Envelope) ToResult() *mcpsdk.CallToolResult {
	data, err := json.Marshal(e)
	if err != nil {
		data = []byte(`{"success":false,"error":"envelope encoding failed"}`)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}
}

// ParseEnvelope extracts the envelope from an MCP tool result's first text
// content block.
func ParseEnvelope(result *mcpsdk.CallToolResult) (*Envelope, error) {
	if result == nil {
		return nil, errs.Parse("nil tool result", nil)
	}
	for _, content := range result.Content {
		text, ok := content.(*mcpsdk.TextContent)
		if !ok {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(text.Text), &env); err != nil {
			return nil, errs.Parse("tool result is not a gateway envelope", err)
		}
		return &env, nil
	}
	return nil, errs.Parse("tool result carries no text content", nil)
}
