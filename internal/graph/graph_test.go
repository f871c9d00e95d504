package graph

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubTokenSource implements TokenSource for tests.
type stubTokenSource struct{}

func (s *stubTokenSource) Token() (string, error) { return "test-token", nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient wires a Client to an httptest server. The server URL acts
// as the API base, so handlers see paths like "/items/abc/children".
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/", srv.Client(), srv.Client(), &stubTokenSource{}, discardLogger())

	return c, srv
}
