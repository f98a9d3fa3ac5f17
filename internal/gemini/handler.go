package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"gemini-relay/internal/cache"
	apierrors "gemini-relay/internal/errors"
	"gemini-relay/internal/httputil"
	"gemini-relay/internal/upstream"
)

// Handler orchestrates the anti-truncation protocol for the generateContent
// and streamGenerateContent endpoints.
type Handler struct {
	client    *upstream.Client
	respCache *cache.Cache
	allowed   map[string]bool
	apiKey    string // server-side fallback when the caller sends no key
}

// NewHandler constructs a Handler. allowedModels is the fixed set of model
// identifiers the gateway accepts; everything else is rejected before any
// upstream call.
func NewHandler(client *upstream.Client, respCache *cache.Cache, allowedModels []string, apiKey string) *Handler {
	allowed := make(map[string]bool, len(allowedModels))
	for _, m := range allowedModels {
		allowed[m] = true
	}
	return &Handler{client: client, respCache: respCache, allowed: allowed, apiKey: apiKey}
}

// HandleBlocking serves POST /v1beta/models/{model}:generateContent.
func (h *Handler) HandleBlocking(w http.ResponseWriter, r *http.Request) {
	h.serveHTTP(w, r, false)
}

// HandleStreaming serves POST /v1beta/models/{model}:streamGenerateContent.
func (h *Handler) HandleStreaming(w http.ResponseWriter, r *http.Request) {
	h.serveHTTP(w, r, true)
}

func (h *Handler) serveHTTP(w http.ResponseWriter, r *http.Request, streaming bool) {
	model := mux.Vars(r)["model"]
	if !h.allowed[model] {
		apierrors.WriteJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("model not supported: %q", model))
		return
	}

	apiKey := httputil.ExtractAPIKey(r)
	if apiKey == "" {
		apiKey = h.apiKey
	}
	if apiKey == "" {
		apierrors.WriteJSONError(w, http.StatusUnauthorized,
			"missing API key: provide x-goog-api-key header or Authorization: Bearer <key>")
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	var req GenerationRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "decode body: "+err.Error())
		return
	}
	if len(req.Contents) == 0 {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "contents must not be empty")
		return
	}

	augmented := Augment(&req)
	payload, err := json.Marshal(augmented)
	if err != nil {
		apierrors.WriteJSONError(w, http.StatusInternalServerError, "encode upstream request")
		return
	}

	if streaming {
		h.serveStream(w, r, model, apiKey, payload)
		return
	}
	h.serveBlocking(w, r, model, apiKey, rawBody, augmented, payload)
}

// serveBlocking runs the non-streaming path: send, detect completion, and on
// truncation perform one continuation round before returning the combined,
// marker-stripped result.
func (h *Handler) serveBlocking(w http.ResponseWriter, r *http.Request, model, apiKey string, rawBody []byte, augmented *GenerationRequest, payload []byte) {
	var cacheKey string
	if h.respCache.Enabled() {
		cacheKey = responseCacheKey(model, r.URL.RawQuery, rawBody)
		if body, ok := h.respCache.Get(cacheKey); ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(body)
			return
		}
	}

	resp, err := h.generate(r.Context(), model, r.URL.RawQuery, apiKey, payload)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	var final *GenerationResponse
	if IsComplete(resp) {
		final = StripResponseMarkers(resp)
	} else {
		combined, err := h.continueAndCombine(r.Context(), model, r.URL.RawQuery, apiKey, augmented, resp)
		if err != nil {
			// Availability over correctness: the caller still gets a
			// valid, if truncated, answer.
			slog.Error("continuation attempt failed, returning incomplete response", "error", err)
			combined = StripResponseMarkers(resp)
		}
		final = combined
	}

	body, err := json.Marshal(final)
	if err != nil {
		apierrors.WriteJSONError(w, http.StatusInternalServerError, "encode response")
		return
	}
	if cacheKey != "" {
		h.respCache.Set(cacheKey, body)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// serveStream pipes the upstream event-stream through the chunk transformer.
// No completion-retry loop applies here; truncation mitigation for streams
// relies on the prompt augmentation alone.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, model, apiKey string, payload []byte) {
	body, err := h.client.StreamGenerateContent(r.Context(), model, r.URL.RawQuery, apiKey, payload)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	defer body.Close()

	httputil.SetSSEHeaders(w)
	t := NewStreamTransformer()
	if err := t.Pipe(w, body); err != nil {
		// Headers are gone; nothing left to do but log.
		slog.Error("stream pipe aborted", "error", err)
	}
}

// continueAndCombine performs exactly one continuation step for an
// incomplete response.
func (h *Handler) continueAndCombine(ctx context.Context, model, rawQuery, apiKey string, augmented *GenerationRequest, incomplete *GenerationResponse) (*GenerationResponse, error) {
	contReq := BuildContinuation(augmented, incomplete)
	payload, err := json.Marshal(contReq)
	if err != nil {
		return nil, fmt.Errorf("encode continuation request: %w", err)
	}
	cont, err := h.generate(ctx, model, rawQuery, apiKey, payload)
	if err != nil {
		return nil, err
	}
	return StripResponseMarkers(Combine(incomplete, cont)), nil
}

func (h *Handler) generate(ctx context.Context, model, rawQuery, apiKey string, payload []byte) (*GenerationResponse, error) {
	raw, err := h.client.GenerateContent(ctx, model, rawQuery, apiKey, payload)
	if err != nil {
		return nil, err
	}
	var resp GenerationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	return &resp, nil
}

func responseCacheKey(model, rawQuery string, body []byte) string {
	sum := sha256.Sum256(body)
	return model + "|" + rawQuery + "|" + hex.EncodeToString(sum[:])
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	status := apierrors.HTTPStatus(err)
	if status == http.StatusGatewayTimeout {
		apierrors.WriteJSONError(w, status, "upstream timeout")
		return
	}
	apierrors.WriteJSONError(w, status, "upstream error: "+err.Error())
}
