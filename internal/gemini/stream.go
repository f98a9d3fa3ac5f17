package gemini

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const dataPrefix = "data:"

// maxExcerpt bounds the payload excerpt logged for malformed fragments.
const maxExcerpt = 64

// StreamTransformer consumes an upstream event-stream chunk by chunk and
// re-emits it with the protocol markers stripped from every text part.
//
// Lines that do not start with the event-data prefix (blank separators,
// other SSE fields) pass through unchanged, as do data lines with an empty
// payload and data lines whose payload fails to parse. Output ordering
// exactly preserves input line ordering.
//
// Chunk boundaries need not align with line boundaries: a trailing partial
// line is carried over and completed by the next chunk. Call Flush after the
// last chunk to drain any unterminated remainder.
type StreamTransformer struct {
	carry []byte
}

// NewStreamTransformer returns a transformer with empty carry state.
func NewStreamTransformer() *StreamTransformer {
	return &StreamTransformer{}
}

// Transform runs one transform cycle over chunk and returns the cleaned
// output for every complete line it contains.
func (t *StreamTransformer) Transform(chunk []byte) []byte {
	data := append(t.carry, chunk...)
	var out bytes.Buffer
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		out.Write(transformLine(data[:i]))
		data = data[i+1:]
	}
	t.carry = append([]byte(nil), data...)
	return out.Bytes()
}

// Flush drains a trailing partial line left after the final chunk.
func (t *StreamTransformer) Flush() []byte {
	if len(t.carry) == 0 {
		return nil
	}
	line := t.carry
	t.carry = nil
	return transformLine(line)
}

// flusher is satisfied by http.Flusher and the proxy's flush writer.
type flusher interface{ Flush() }

// Pipe drives the transformer over src chunk by chunk, writing cleaned
// output to dst and flushing after every write so downstream consumption
// gates the upstream read rate.
func (t *StreamTransformer) Pipe(dst io.Writer, src io.Reader) error {
	f, _ := dst.(flusher)
	buf := make([]byte, 4096)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if out := t.Transform(buf[:n]); len(out) > 0 {
				if _, werr := dst.Write(out); werr != nil {
					return werr
				}
				if f != nil {
					f.Flush()
				}
			}
		}
		if rerr == io.EOF {
			if out := t.Flush(); len(out) > 0 {
				if _, werr := dst.Write(out); werr != nil {
					return werr
				}
				if f != nil {
					f.Flush()
				}
			}
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func transformLine(line []byte) []byte {
	s := strings.TrimSuffix(string(line), "\r")

	rest, ok := strings.CutPrefix(s, dataPrefix)
	if !ok {
		return append(line, '\n')
	}
	payload := strings.TrimSpace(rest)
	if payload == "" {
		return append(line, '\n')
	}
	if !gjson.Valid(payload) {
		slog.Debug("stream fragment failed to parse, passing through", "excerpt", excerpt(payload))
		return append(line, '\n')
	}
	return []byte(dataPrefix + " " + cleanFragment(payload) + "\n\n")
}

// cleanFragment strips the protocol markers from every candidate text part
// of one event payload, leaving all other fields byte-for-byte intact.
func cleanFragment(payload string) string {
	out := payload
	for ci, cand := range gjson.Get(payload, "candidates").Array() {
		for pi, part := range cand.Get("content.parts").Array() {
			text := part.Get("text")
			if !text.Exists() {
				continue
			}
			cleaned := StripMarkers(text.String())
			if cleaned == text.String() {
				continue
			}
			path := fmt.Sprintf("candidates.%d.content.parts.%d.text", ci, pi)
			if updated, err := sjson.Set(out, path, cleaned); err == nil {
				out = updated
			}
		}
	}
	return out
}

func excerpt(s string) string {
	if len(s) > maxExcerpt {
		return s[:maxExcerpt] + "..."
	}
	return s
}
