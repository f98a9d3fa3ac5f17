package gemini

import "strings"

// IsComplete reports whether resp carries the model's full answer: candidate
// 0 exists, has at least one part, and its concatenated text contains the
// finished marker. Every degenerate shape (no candidates, no content, no
// parts) is incomplete, never an error.
func IsComplete(resp *GenerationResponse) bool {
	if resp == nil || len(resp.Candidates) == 0 {
		return false
	}
	if len(resp.Candidates[0].Content.Parts) == 0 {
		return false
	}
	return strings.Contains(resp.CandidateText(), FinishedMarker)
}
