package gemini

import "encoding/json"

// GenerationRequest mirrors the Gemini v1beta generateContent request body.
// Only the fields this gateway inspects are modeled; everything else rides
// along as raw JSON and is forwarded to the upstream unchanged.
type GenerationRequest struct {
	Contents          []Content       `json:"contents"`
	SystemInstruction *Content        `json:"systemInstruction,omitempty"`
	Tools             json.RawMessage `json:"tools,omitempty"`
	ToolConfig        json.RawMessage `json:"toolConfig,omitempty"`
	SafetySettings    json.RawMessage `json:"safetySettings,omitempty"`
	GenerationConfig  json.RawMessage `json:"generationConfig,omitempty"`
}

// Content is a single turn in a Gemini conversation.
type Content struct {
	Role  string `json:"role,omitempty"` // "user" | "model"
	Parts []Part `json:"parts"`
}

// Part carries text content; function calls and inline data pass through raw.
type Part struct {
	Text             string          `json:"text,omitempty"`
	FunctionCall     json.RawMessage `json:"functionCall,omitempty"`
	FunctionResponse json.RawMessage `json:"functionResponse,omitempty"`
	InlineData       json.RawMessage `json:"inlineData,omitempty"`
}

// GenerationResponse mirrors the Gemini blocking response format.
type GenerationResponse struct {
	Candidates     []Candidate     `json:"candidates"`
	UsageMetadata  json.RawMessage `json:"usageMetadata,omitempty"`
	PromptFeedback json.RawMessage `json:"promptFeedback,omitempty"`
	ModelVersion   string          `json:"modelVersion,omitempty"`
	ResponseID     string          `json:"responseId,omitempty"`
}

// Candidate is one response candidate. The gateway only ever operates on
// candidate index 0.
type Candidate struct {
	Content       Content         `json:"content"`
	FinishReason  string          `json:"finishReason,omitempty"`
	SafetyRatings json.RawMessage `json:"safetyRatings,omitempty"`
	Index         int             `json:"index"`
}

// Clone returns a copy of the request with its own contents and parts
// slices. Raw passthrough fields are shared; they are never mutated.
func (r *GenerationRequest) Clone() *GenerationRequest {
	out := *r
	out.Contents = make([]Content, len(r.Contents))
	for i, c := range r.Contents {
		out.Contents[i] = c.clone()
	}
	if r.SystemInstruction != nil {
		si := r.SystemInstruction.clone()
		out.SystemInstruction = &si
	}
	return &out
}

func (c Content) clone() Content {
	out := c
	out.Parts = make([]Part, len(c.Parts))
	copy(out.Parts, c.Parts)
	return out
}

// CandidateText returns the concatenation of candidate 0's text parts in
// part order. Degenerate shapes (no candidates, no parts) yield "".
func (r *GenerationResponse) CandidateText() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].Content.text()
}

func (c Content) text() string {
	var out string
	for _, p := range c.Parts {
		out += p.Text
	}
	return out
}
