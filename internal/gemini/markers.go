package gemini

import "strings"

// Completion protocol markers. The finished marker must appear as the final
// characters of a complete candidate's concatenated text; the incomplete
// marker is stripped during cleanup but is not emitted by any current code
// path. All three strings are removed from every body the gateway returns.
const (
	// FinishedMarker signals the model has emitted its true final content.
	FinishedMarker = "[RESPONSE_FINISHED]"

	// IncompleteMarker is reserved for explicitly-truncated output.
	IncompleteMarker = "[RESPONSE_INCOMPLETE]"

	// ContinuationReminder is appended to every continuation turn.
	ContinuationReminder = "Your previous reply was cut off before it was finished. " +
		"Continue exactly where it stopped, starting with the very next character. " +
		"Do not repeat any text you have already produced. Do not add any preamble, " +
		"apology or commentary. When the answer is truly complete, end it with " +
		FinishedMarker + "."

	// completionMandate is appended to the system instruction of every
	// outbound request so the model tags its final output.
	completionMandate = "When you have written everything you intend to write, " +
		"end your reply with the literal token " + FinishedMarker + ". " +
		"Never end a reply without it."
)

// StripMarkers removes the protocol-internal tokens from s by plain
// substring removal. The reminder is removed first because it embeds the
// finished marker.
func StripMarkers(s string) string {
	s = strings.ReplaceAll(s, ContinuationReminder, "")
	s = strings.ReplaceAll(s, FinishedMarker, "")
	s = strings.ReplaceAll(s, IncompleteMarker, "")
	return s
}

// StripResponseMarkers returns a copy of resp with the protocol markers
// removed from every candidate text part.
func StripResponseMarkers(resp *GenerationResponse) *GenerationResponse {
	out := *resp
	out.Candidates = make([]Candidate, len(resp.Candidates))
	for i, cand := range resp.Candidates {
		c := cand
		c.Content = cand.Content.clone()
		for j, part := range c.Content.Parts {
			if part.Text != "" {
				c.Content.Parts[j].Text = StripMarkers(part.Text)
			}
		}
		out.Candidates[i] = c
	}
	return &out
}
