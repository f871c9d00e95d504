// Package graph provides a client for a Microsoft-Graph-style cloud storage
// API: token lifecycle management, resumable chunked uploads, segmented
// parallel downloads, and the thin item operations around them.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Failure kinds. Use errors.Is(err, graph.ErrTransfer) to classify.
var (
	ErrAuthentication = errors.New("graph: authentication failed")
	ErrTransfer       = errors.New("graph: transfer failed")
	ErrUsage          = errors.New("graph: invalid usage")
	ErrCancelled      = errors.New("graph: operation cancelled")
)

// noErrorMessage is the reason reported when the server returned no
// parseable error payload.
const noErrorMessage = "no error message returned"

// maxErrorBody caps how much of an error response body is read.
const maxErrorBody = 64 * 1024

// APIError is the single error type raised for unexpected API responses.
// The message has the form "<operation> (<server reason>)" so a human can
// diagnose the failure without inspecting logs.
type APIError struct {
	Op         string // what was being attempted
	Reason     string // server-provided reason, or a fixed marker
	StatusCode int
	Kind       error // sentinel for errors.Is
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Op, e.Reason)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// checkStatus verifies the response status is one of the expected codes.
// On mismatch it consumes the body, extracts the server's reason, and
// returns an *APIError of the given kind. The body is left unread when the
// status is accepted, so callers can stream or decode it.
func checkStatus(resp *http.Response, kind error, op string, expected ...int) error {
	for _, code := range expected {
		if resp.StatusCode == code {
			return nil
		}
	}

	// The reason is extracted from any body that parses as JSON; some
	// endpoints serve error payloads without a JSON content type.
	reason := noErrorMessage

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil && len(body) > 0 {
		reason = extractReason(body)
	}

	return &APIError{
		Op:         op,
		Reason:     reason,
		StatusCode: resp.StatusCode,
		Kind:       kind,
	}
}

// extractReason pulls the human-readable reason out of an error payload.
// API errors carry error.message, the auth endpoint uses error_description.
func extractReason(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		ErrorDescription string `json:"error_description"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return noErrorMessage
	}

	switch {
	case payload.Error.Message != "":
		return payload.Error.Message
	case payload.ErrorDescription != "":
		return payload.ErrorDescription
	default:
		return noErrorMessage
	}
}

// decodeJSON decodes an expected JSON payload from the response body.
// A body that is not valid JSON raises the same error type with reason
// "response did not contain json".
func decodeJSON(resp *http.Response, kind error, op string, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &APIError{
			Op:         op,
			Reason:     "response did not contain json",
			StatusCode: resp.StatusCode,
			Kind:       kind,
		}
	}

	return nil
}

// usageError reports caller misuse. Usage errors are raised before any
// network call is made.
func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}
