package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockGemini is an httptest.Server that simulates the Gemini
// generateContent and streamGenerateContent endpoints.
//
// Blocking calls are answered from Responses in order (the last one repeats
// when the script runs out); streaming calls write StreamLines verbatim as
// the response body, flushing after each line.
type MockGemini struct {
	Server *httptest.Server

	// Responses holds scripted blocking replies, applied in call order.
	Responses []MockResponse
	// StreamLines is the raw SSE body for streaming calls, one line each.
	StreamLines []string

	mu       sync.Mutex
	requests [][]byte
	paths    []string
}

// MockResponse is one scripted blocking reply.
type MockResponse struct {
	Status int // 0 means 200
	Body   string
}

// NewMockGemini creates and starts a mock Gemini server.
func NewMockGemini() *MockGemini {
	m := &MockGemini{}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// Close shuts down the mock server.
func (m *MockGemini) Close() {
	m.Server.Close()
}

// URL returns the base URL of the mock server.
func (m *MockGemini) URL() string {
	return m.Server.URL
}

// Calls returns how many requests the mock has received.
func (m *MockGemini) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Request returns the parsed body of request i.
func (m *MockGemini) Request(i int) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var body map[string]any
	_ = json.Unmarshal(m.requests[i], &body)
	return body
}

// Path returns the URL path of request i.
func (m *MockGemini) Path(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paths[i]
}

func (m *MockGemini) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/v1beta/models/") {
		http.NotFound(w, r)
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, body)
	m.paths = append(m.paths, r.URL.Path)
	idx := len(m.requests) - 1
	m.mu.Unlock()

	if strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
		m.writeStreaming(w)
		return
	}
	m.writeBlocking(w, idx)
}

func (m *MockGemini) writeBlocking(w http.ResponseWriter, idx int) {
	if len(m.Responses) == 0 {
		http.Error(w, "mock has no scripted responses", http.StatusInternalServerError)
		return
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	resp := m.Responses[idx]
	w.Header().Set("Content-Type", "application/json")
	if resp.Status != 0 {
		w.WriteHeader(resp.Status)
	}
	_, _ = w.Write([]byte(resp.Body))
}

func (m *MockGemini) writeStreaming(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, hasFlusher := w.(http.Flusher)

	for _, line := range m.StreamLines {
		fmt.Fprintf(w, "%s\n", line)
		if hasFlusher {
			flusher.Flush()
		}
	}
}

// GenerationJSON builds a minimal blocking response body with one candidate
// carrying the given text.
func GenerationJSON(text, finishReason string) string {
	resp := map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": text}},
				},
				"finishReason": finishReason,
				"index":        0,
			},
		},
		"usageMetadata": map[string]any{
			"promptTokenCount":     3,
			"candidatesTokenCount": 5,
			"totalTokenCount":      8,
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

// FragmentJSON builds one streaming fragment payload with the given text.
func FragmentJSON(text string) string {
	chunk := map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": text}},
				},
				"index": 0,
			},
		},
	}
	data, _ := json.Marshal(chunk)
	return string(data)
}
