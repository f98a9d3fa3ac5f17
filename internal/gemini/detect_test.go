package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func textResponse(texts ...string) *GenerationResponse {
	parts := make([]Part, len(texts))
	for i, s := range texts {
		parts[i] = Part{Text: s}
	}
	return &GenerationResponse{
		Candidates: []Candidate{{Content: Content{Role: "model", Parts: parts}}},
	}
}

func TestIsComplete(t *testing.T) {
	tests := []struct {
		name string
		resp *GenerationResponse
		want bool
	}{
		{"nil response", nil, false},
		{"no candidates", &GenerationResponse{}, false},
		{"no parts", &GenerationResponse{Candidates: []Candidate{{}}}, false},
		{"marker absent", textResponse("Hello wor"), false},
		{"marker at end", textResponse("Hello world!" + FinishedMarker), true},
		{"marker mid-text", textResponse("done" + FinishedMarker + "trailing"), true},
		{"marker split across parts", textResponse("done[RESPONSE_", "FINISHED]"), true},
		{"non-text parts only", &GenerationResponse{Candidates: []Candidate{{
			Content: Content{Parts: []Part{{FunctionCall: []byte(`{"name":"f"}`)}}},
		}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsComplete(tt.resp))
		})
	}
}

func TestStripMarkers(t *testing.T) {
	in := "a" + FinishedMarker + "b" + IncompleteMarker + "c" + ContinuationReminder + "d"
	assert.Equal(t, "abcd", StripMarkers(in))
	assert.Equal(t, "untouched", StripMarkers("untouched"))
}

func TestStripResponseMarkers(t *testing.T) {
	resp := textResponse("Hello!" + FinishedMarker)
	out := StripResponseMarkers(resp)

	assert.Equal(t, "Hello!", out.CandidateText())
	// Input untouched.
	assert.Equal(t, "Hello!"+FinishedMarker, resp.CandidateText())
}
