package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"constructionpro/internal/common"
	"constructionpro/internal/resilience"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Is lets callers match API errors against the shared sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case common.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case common.ErrValidation:
		return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusRequestEntityTooLarge
	case common.ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case common.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case common.ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// TransportError means the request never got an HTTP answer.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "api transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying later: transport
// failures, 5xx, 429 and an open circuit breaker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if resilience.IsCircuitOpen(err) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Temporary()
	}
	return false
}

func classify(err error) resilience.Classification {
	if IsTransient(err) {
		return resilience.Classification{Retryable: true, RecordFailure: true}
	}
	return resilience.Classification{}
}

func classifyCreate(err error) resilience.Classification {
	return resilience.Classification{RecordFailure: IsTransient(err)}
}

func newAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
