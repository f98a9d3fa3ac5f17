package gemini

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func systemText(req *GenerationRequest) string {
	if req.SystemInstruction == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range req.SystemInstruction.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func TestAugment_NoSystemInstruction(t *testing.T) {
	req := &GenerationRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: "hi"}}}},
	}

	out := Augment(req)

	require.NotNil(t, out.SystemInstruction)
	assert.Equal(t, completionMandate, systemText(out))
}

func TestAugment_AppendsAfterCallerInstruction(t *testing.T) {
	req := &GenerationRequest{
		Contents:          []Content{{Role: "user", Parts: []Part{{Text: "hi"}}}},
		SystemInstruction: &Content{Parts: []Part{{Text: "You are terse."}}},
	}

	out := Augment(req)

	got := systemText(out)
	assert.True(t, strings.HasPrefix(got, "You are terse."), "caller instruction must stay a verbatim prefix")
	assert.True(t, strings.HasSuffix(got, completionMandate), "mandate must end the instruction")
	assert.Contains(t, got, "You are terse.\n\n", "mandate separated by a blank line")
}

func TestAugment_DoesNotMutateInput(t *testing.T) {
	req := &GenerationRequest{
		Contents:          []Content{{Role: "user", Parts: []Part{{Text: "hi"}}}},
		SystemInstruction: &Content{Parts: []Part{{Text: "original"}}},
	}

	_ = Augment(req)

	assert.Equal(t, "original", systemText(req))
	assert.Len(t, req.SystemInstruction.Parts, 1)
}

// Applying augmentation twice is not literally idempotent, but it must keep
// the caller's text as a prefix and the mandate present at the end.
func TestAugment_Twice(t *testing.T) {
	req := &GenerationRequest{
		Contents:          []Content{{Role: "user", Parts: []Part{{Text: "hi"}}}},
		SystemInstruction: &Content{Parts: []Part{{Text: "original"}}},
	}

	out := Augment(Augment(req))

	got := systemText(out)
	assert.True(t, strings.HasPrefix(got, "original"))
	assert.True(t, strings.HasSuffix(got, completionMandate))
}
