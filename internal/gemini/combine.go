package gemini

import "strings"

// Combine merges an incomplete response and its continuation into one
// logical response. The merged text is the continuation's concatenated text
// with the incomplete text removed at its first exact occurrence, then
// trimmed; when the continuation does not literally contain the incomplete
// text the removal is a no-op and the full continuation text is kept, any
// accidental repetition included. Finish reason and safety ratings come from
// the continuation candidate; usage metadata from the continuation response
// only, the incomplete response's usage is discarded.
func Combine(incomplete, continuation *GenerationResponse) *GenerationResponse {
	prev := incomplete.CandidateText()
	next := continuation.CandidateText()

	merged := next
	if prev != "" {
		if i := strings.Index(next, prev); i >= 0 {
			merged = next[i+len(prev):]
		}
	}

	cand := Candidate{
		Content: Content{
			Role:  "model",
			Parts: []Part{{Text: strings.TrimSpace(merged)}},
		},
	}
	if len(continuation.Candidates) > 0 {
		c0 := continuation.Candidates[0]
		cand.FinishReason = c0.FinishReason
		cand.SafetyRatings = c0.SafetyRatings
		if c0.Content.Role != "" {
			cand.Content.Role = c0.Content.Role
		}
	}

	return &GenerationResponse{
		Candidates:     []Candidate{cand},
		UsageMetadata:  continuation.UsageMetadata,
		PromptFeedback: continuation.PromptFeedback,
		ModelVersion:   continuation.ModelVersion,
		ResponseID:     continuation.ResponseID,
	}
}
