package gemini

// Augment returns a derived copy of req whose system instruction ends with
// the completion mandate. Caller-supplied instruction text is preserved
// verbatim, separated from the mandate by a blank line. The input request is
// never mutated.
func Augment(req *GenerationRequest) *GenerationRequest {
	out := req.Clone()

	if out.SystemInstruction == nil || len(out.SystemInstruction.Parts) == 0 {
		out.SystemInstruction = &Content{
			Parts: []Part{{Text: completionMandate}},
		}
		return out
	}

	out.SystemInstruction.Parts = append(out.SystemInstruction.Parts,
		Part{Text: "\n\n" + completionMandate})
	return out
}
