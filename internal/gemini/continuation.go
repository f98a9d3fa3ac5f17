package gemini

// BuildContinuation turns an incomplete response plus the augmented original
// request into a new request that asks the model to resume exactly where it
// stopped: the original turns plus one user turn carrying the truncated text
// and the continuation reminder. One continuation step per incomplete
// response; the orchestrator does not loop this to convergence.
func BuildContinuation(augmented *GenerationRequest, incomplete *GenerationResponse) *GenerationRequest {
	out := augmented.Clone()
	out.Contents = append(out.Contents, Content{
		Role: "user",
		Parts: []Part{
			{Text: incomplete.CandidateText() + "\n\n" + ContinuationReminder},
		},
	})
	return out
}
