package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrMalformedBody   = errors.New("malformed request body")
	ErrModelNotAllowed = errors.New("model not supported")
)

// Kind classifies an error into the gateway's fixed taxonomy.
type Kind int

const (
	Unknown Kind = iota
	InvalidRequest
	UpstreamTransient
	UpstreamFatal
	ContinuationFailure
	MalformedStreamFragment
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "invalid_request"
	case UpstreamTransient:
		return "upstream_transient"
	case UpstreamFatal:
		return "upstream_fatal"
	case ContinuationFailure:
		return "continuation_failure"
	case MalformedStreamFragment:
		return "malformed_stream_fragment"
	default:
		return "unknown"
	}
}

// UpstreamError is the terminal failure of a resilient upstream call: either
// a non-retryable status, or retry exhaustion carrying the last status or
// transport cause observed.
type UpstreamError struct {
	Status   int    // last HTTP status, 0 for pure transport failures
	Body     string // excerpt of the last upstream error body
	Attempts int    // total attempts performed
	Cause    error  // last transport-level error, if any
}

func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream request failed after %d attempts: %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("upstream returned %d after %d attempts: %s", e.Status, e.Attempts, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// Classify maps err into the taxonomy by pattern-matching its normalized
// description. Total: anything unrecognized is Unknown, never a thrown
// mismatch.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	switch {
	case errors.Is(err, ErrMissingAPIKey),
		errors.Is(err, ErrMalformedBody),
		errors.Is(err, ErrModelNotAllowed):
		return InvalidRequest
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		if ue.Cause != nil {
			return UpstreamTransient
		}
		return UpstreamFatal
	}

	desc := strings.ToLower(err.Error())
	switch {
	case strings.Contains(desc, "context deadline exceeded"),
		strings.Contains(desc, "timeout"),
		strings.Contains(desc, "timed out"),
		strings.Contains(desc, "connection refused"),
		strings.Contains(desc, "connection reset"),
		strings.Contains(desc, "no such host"),
		strings.Contains(desc, "broken pipe"):
		return UpstreamTransient
	case strings.Contains(desc, "decode body"),
		strings.Contains(desc, "contents must not be empty"):
		return InvalidRequest
	default:
		return Unknown
	}
}

// HTTPStatus maps err to the status code the gateway surfaces: timeouts are
// 504, other transient upstream failures 503, fatal upstream failures and
// unknowns 502, invalid requests 400.
func HTTPStatus(err error) int {
	desc := strings.ToLower(err.Error())
	if strings.Contains(desc, "context deadline exceeded") || strings.Contains(desc, "timeout") {
		return http.StatusGatewayTimeout
	}
	switch Classify(err) {
	case InvalidRequest:
		return http.StatusBadRequest
	case UpstreamTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

type jsonError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSONError writes a transport-level error payload.
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := jsonError{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	_ = json.NewEncoder(w).Encode(body)
}
