package gemini

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-relay/internal/cache"
	"gemini-relay/internal/upstream"
)

// scriptedUpstream replays a fixed sequence of responses and records every
// request body it receives.
type scriptedUpstream struct {
	mu        sync.Mutex
	server    *httptest.Server
	responses []scriptedResponse
	requests  [][]byte
	paths     []string
}

type scriptedResponse struct {
	status int
	body   string
	sse    bool
}

func newScriptedUpstream(responses ...scriptedResponse) *scriptedUpstream {
	s := &scriptedUpstream{responses: responses}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *scriptedUpstream) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, body)
	s.paths = append(s.paths, r.URL.Path)
	idx := len(s.requests) - 1
	s.mu.Unlock()

	if idx >= len(s.responses) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	resp := s.responses[idx]
	if resp.sse {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(resp.body))
		return
	}
	if resp.status != 0 && resp.status != http.StatusOK {
		w.WriteHeader(resp.status)
	}
	_, _ = w.Write([]byte(resp.body))
}

func (s *scriptedUpstream) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedUpstream) request(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func (s *scriptedUpstream) close() { s.server.Close() }

func responseJSON(text, finishReason string) string {
	resp := GenerationResponse{
		Candidates: []Candidate{{
			Content:      Content{Role: "model", Parts: []Part{{Text: text}}},
			FinishReason: finishReason,
		}},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func newTestHandler(upstreamURL string, ttl time.Duration) *Handler {
	client := upstream.New(upstream.Config{
		BaseURL:     upstreamURL,
		Timeout:     5 * time.Second,
		MaxRetries:  0,
		BackoffBase: time.Millisecond,
		BackoffCap:  time.Millisecond,
	})
	return NewHandler(client, cache.New(ttl, 16),
		[]string{"gemini-2.5-pro", "gemini-2.5-flash"}, "")
}

func newTestRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1beta/models/{model}:streamGenerateContent", h.HandleStreaming).Methods(http.MethodPost)
	r.HandleFunc("/v1beta/models/{model}:generateContent", h.HandleBlocking).Methods(http.MethodPost)
	return r
}

func doRequest(t *testing.T, router *mux.Router, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", "test-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const simpleBody = `{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`

func TestHandler_ModelGating(t *testing.T) {
	up := newScriptedUpstream()
	defer up.close()
	router := newTestRouter(newTestHandler(up.server.URL, 0))

	rec := doRequest(t, router, "/v1beta/models/gemini-1.0-pro:generateContent", simpleBody)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, up.calls(), "rejected before any upstream call")
}

func TestHandler_MissingAPIKey(t *testing.T) {
	up := newScriptedUpstream()
	defer up.close()
	router := newTestRouter(newTestHandler(up.server.URL, 0))

	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-pro:generateContent", strings.NewReader(simpleBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, up.calls())
}

func TestHandler_MalformedBody(t *testing.T) {
	up := newScriptedUpstream()
	defer up.close()
	router := newTestRouter(newTestHandler(up.server.URL, 0))

	rec := doRequest(t, router, "/v1beta/models/gemini-2.5-pro:generateContent", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, up.calls())
}

func TestHandler_CompleteFirstTry(t *testing.T) {
	up := newScriptedUpstream(
		scriptedResponse{body: responseJSON("Hello!"+FinishedMarker, "STOP")},
	)
	defer up.close()
	router := newTestRouter(newTestHandler(up.server.URL, 0))

	rec := doRequest(t, router, "/v1beta/models/gemini-2.5-pro:generateContent", simpleBody)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp GenerationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hello!", resp.CandidateText(), "markers stripped")
	assert.Equal(t, 1, up.calls())

	// The outbound request was augmented with the completion mandate.
	var sent GenerationRequest
	require.NoError(t, json.Unmarshal(up.request(0), &sent))
	require.NotNil(t, sent.SystemInstruction)
	assert.Contains(t, systemText(&sent), FinishedMarker)
}

// Non-streaming request whose first upstream response is truncated: the
// gateway builds a continuation, sends it, and combines both rounds.
func TestHandler_ContinuationRound(t *testing.T) {
	up := newScriptedUpstream(
		scriptedResponse{body: responseJSON("Hello wor", "")},
		scriptedResponse{body: responseJSON("ld!"+FinishedMarker, "STOP")},
	)
	defer up.close()
	router := newTestRouter(newTestHandler(up.server.URL, 0))

	rec := doRequest(t, router, "/v1beta/models/gemini-2.5-pro:generateContent", simpleBody)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp GenerationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// "Hello wor" is not a substring of "ld!": the no-overlap branch keeps
	// the continuation text whole.
	assert.Equal(t, "ld!", resp.CandidateText())
	assert.Equal(t, "STOP", resp.Candidates[0].FinishReason)
	require.Equal(t, 2, up.calls())

	// The continuation request carries the truncated text plus the reminder.
	var cont GenerationRequest
	require.NoError(t, json.Unmarshal(up.request(1), &cont))
	last := cont.Contents[len(cont.Contents)-1]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Parts[0].Text, "Hello wor")
	assert.Contains(t, last.Parts[0].Text, ContinuationReminder)
}

// A failed continuation attempt degrades to the original incomplete answer
// with a success status instead of propagating the error.
func TestHandler_ContinuationFailureFallsBack(t *testing.T) {
	up := newScriptedUpstream(
		scriptedResponse{body: responseJSON("Hello wor", "")},
		scriptedResponse{status: http.StatusBadRequest, body: `{"error":"bad"}`},
	)
	defer up.close()
	router := newTestRouter(newTestHandler(up.server.URL, 0))

	rec := doRequest(t, router, "/v1beta/models/gemini-2.5-pro:generateContent", simpleBody)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp GenerationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hello wor", resp.CandidateText())
	assert.Equal(t, 2, up.calls())
}

func TestHandler_UpstreamFatal(t *testing.T) {
	up := newScriptedUpstream(
		scriptedResponse{status: http.StatusBadRequest, body: `{"error":"nope"}`},
	)
	defer up.close()
	router := newTestRouter(newTestHandler(up.server.URL, 0))

	rec := doRequest(t, router, "/v1beta/models/gemini-2.5-pro:generateContent", simpleBody)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandler_Streaming(t *testing.T) {
	sse := "data: " + fragment("chunk one "+IncompleteMarker) + "\n\n" +
		"data: {malformed\n\n" +
		"data: " + fragment("chunk two"+FinishedMarker) + "\n\n"
	up := newScriptedUpstream(scriptedResponse{body: sse, sse: true})
	defer up.close()
	router := newTestRouter(newTestHandler(up.server.URL, 0))

	rec := doRequest(t, router, "/v1beta/models/gemini-2.5-flash:streamGenerateContent", simpleBody)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	out := rec.Body.String()
	assert.Contains(t, out, "chunk one")
	assert.Contains(t, out, "chunk two")
	assert.NotContains(t, out, FinishedMarker)
	assert.NotContains(t, out, IncompleteMarker)
	assert.Contains(t, out, "data: {malformed", "malformed fragment forwarded unmodified")
}

func TestHandler_ResponseCache(t *testing.T) {
	up := newScriptedUpstream(
		scriptedResponse{body: responseJSON("cached"+FinishedMarker, "STOP")},
	)
	defer up.close()
	router := newTestRouter(newTestHandler(up.server.URL, time.Minute))

	first := doRequest(t, router, "/v1beta/models/gemini-2.5-pro:generateContent", simpleBody)
	second := doRequest(t, router, "/v1beta/models/gemini-2.5-pro:generateContent", simpleBody)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, up.calls(), "second request served from cache")
}
