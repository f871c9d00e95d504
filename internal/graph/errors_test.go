package graph

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- APIError ---

func TestAPIError_Message(t *testing.T) {
	err := &APIError{
		Op:         "item not deleted",
		Reason:     "itemNotFound",
		StatusCode: 404,
		Kind:       ErrTransfer,
	}

	assert.Equal(t, "item not deleted (itemNotFound)", err.Error())
	assert.True(t, errors.Is(err, ErrTransfer))
	assert.False(t, errors.Is(err, ErrAuthentication))
}

// --- checkStatus ---

func fakeResponse(status int, contentType, body string) *http.Response {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}

	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestCheckStatus_Accepted(t *testing.T) {
	resp := fakeResponse(202, "application/json", `{"ignored":true}`)

	require.NoError(t, checkStatus(resp, ErrTransfer, "op", 200, 202))
}

func TestCheckStatus_ReasonFromErrorMessage(t *testing.T) {
	resp := fakeResponse(409, "application/json; charset=utf-8",
		`{"error":{"code":"nameAlreadyExists","message":"name conflict"}}`)

	err := checkStatus(resp, ErrTransfer, "folder not created", 201)
	require.Error(t, err)
	assert.Equal(t, "folder not created (name conflict)", err.Error())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.StatusCode)
}

func TestCheckStatus_ReasonFromErrorDescription(t *testing.T) {
	resp := fakeResponse(400, "application/json",
		`{"error":"invalid_grant","error_description":"AADSTS70000: code expired"}`)

	err := checkStatus(resp, ErrAuthentication, "could not get access token", 200)
	require.Error(t, err)
	assert.Equal(t, "could not get access token (AADSTS70000: code expired)", err.Error())
	assert.True(t, errors.Is(err, ErrAuthentication))
}

func TestCheckStatus_NoBody(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"html error page", "text/html", "<html>gateway timeout</html>"},
		{"empty json", "application/json", `{}`},
		{"malformed json", "application/json", `{"error":`},
		{"no content type", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := fakeResponse(500, tt.contentType, tt.body)

			err := checkStatus(resp, ErrTransfer, "op", 200)
			require.Error(t, err)
			assert.Equal(t, "op (no error message returned)", err.Error())
		})
	}
}

// An error payload served without a JSON content type still yields its
// reason.
func TestCheckStatus_ReasonWithoutJSONContentType(t *testing.T) {
	resp := fakeResponse(429, "text/plain",
		`{"error":{"code":"activityLimitReached","message":"throttled"}}`)

	err := checkStatus(resp, ErrTransfer, "op", 200)
	require.Error(t, err)
	assert.Equal(t, "op (throttled)", err.Error())
}

// error.message wins over error_description when both appear.
func TestExtractReason_Preference(t *testing.T) {
	reason := extractReason([]byte(
		`{"error":{"message":"from message"},"error_description":"from description"}`))
	assert.Equal(t, "from message", reason)
}

// --- decodeJSON ---

func TestDecodeJSON_NotJSON(t *testing.T) {
	resp := fakeResponse(200, "text/html", "<html></html>")

	var v struct{}

	err := decodeJSON(resp, ErrTransfer, "op", &v)
	require.Error(t, err)
	assert.Equal(t, "op (response did not contain json)", err.Error())
}

// --- usageError ---

func TestUsageError(t *testing.T) {
	err := usageError("expected %d, got %d", 1, 2)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUsage))
	assert.Contains(t, err.Error(), "expected 1, got 2")
}
