// Package llm binds the language model to the two structured-output
// contracts the coordinator depends on: the reasoning decision schema and
// the photo vibe-check verdict schema. Callers hand over prompts; the
// package guarantees a schema-conformant struct or a classified error.
package llm

import (
	"context"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
)

// DecisionRequest carries the composed reasoning prompt.
type DecisionRequest struct {
	SystemPrompt string
	UserPrompt   string
}

// Reasoner produces exactly one structured decision per request. A model
// response with no parseable tool invocation degrades to a no-action
// decision rather than an error; only transport failures surface.
type Reasoner interface {
	Decide(ctx context.Context, req DecisionRequest) (*agent.Decision, error)
}

// ImageInput is one image handed to the vision model, annotated so the
// prompt can tell the submission from its references.
type ImageInput struct {
	Label string // e.g. "submitted photo", "promotional reference 1"
	Data  []byte // JPEG or PNG bytes
	MIME  string // image/jpeg or image/png
}

// VisionRequest carries the vibe-check rubric and the images to compare.
type VisionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Images       []ImageInput
}

// Verdict is the structured vibe-check output.
type Verdict struct {
	VibeScore        float64 `json:"vibe_score"`
	ConfidenceScore  float64 `json:"confidence_score"`
	VibeAnalysis     string  `json:"vibe_analysis"`
	PromotionalMatch string  `json:"promotional_match"`
	Reasoning        string  `json:"reasoning"`
}

// Vision scores a submitted photo against promotional references. Parse
// failures degrade to a zero-score verdict carrying the error text in
// Reasoning; only transport failures surface as errors.
type Vision interface {
	CompareImages(ctx context.Context, req VisionRequest) (*Verdict, error)
}

// Client is the full model capability the coordinator wires at startup.
type Client interface {
	Reasoner
	Vision
}
