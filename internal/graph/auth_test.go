package graph

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testCred = Credential{
	ClientID:     "client-id",
	ClientSecret: "client-secret",
}

// tokenServer records every token request form and answers from responses,
// one per request.
type tokenServer struct {
	srv       *httptest.Server
	forms     []url.Values
	responses []map[string]any
}

func newTokenServer(t *testing.T, responses ...map[string]any) *tokenServer {
	t.Helper()

	ts := &tokenServer{responses: responses}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())

		ts.forms = append(ts.forms, r.PostForm)

		require.Less(t, len(ts.forms), len(ts.responses)+1, "more token requests than prepared responses")

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(ts.responses[len(ts.forms)-1]))
	}))
	t.Cleanup(ts.srv.Close)

	return ts
}

// newTestTokenManager points the manager's token endpoint at the fake
// server.
func newTestTokenManager(t *testing.T, ts *tokenServer, refreshToken string, prompt Prompter) *TokenManager {
	t.Helper()

	tm, err := NewTokenManager(testCred, refreshToken, prompt, ts.srv.Client(), discardLogger())
	require.NoError(t, err)

	tm.endpoint = oauth2.Endpoint{
		AuthURL:  ts.srv.URL + "/authorize",
		TokenURL: ts.srv.URL + "/token",
	}

	return tm
}

// --- NewTokenManager ---

func TestNewTokenManager_Validation(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
	}{
		{"missing client id", Credential{ClientSecret: "s"}},
		{"missing client secret", Credential{ClientID: "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenManager(tt.cred, "", nil, nil, discardLogger())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUsage))
		})
	}
}

func TestNewTokenManager_Defaults(t *testing.T) {
	tm, err := NewTokenManager(testCred, "", nil, nil, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, DefaultTenant, tm.cred.Tenant)
	assert.Equal(t, DefaultRedirectURL, tm.cred.RedirectURL)
	assert.Equal(t, DefaultScope, tm.cred.Scope)
}

// --- refresh token flow ---

func TestToken_RefreshFlow(t *testing.T) {
	ts := newTokenServer(t, map[string]any{
		"access_token":  "A1",
		"refresh_token": "R2",
		"expires_in":    3600,
	})

	tm := newTestTokenManager(t, ts, "R1", nil)

	tok, err := tm.Token()
	require.NoError(t, err)
	assert.Equal(t, "A1", tok)

	// The refresh token rotated and can be persisted.
	assert.Equal(t, "R2", tm.RefreshToken())

	require.Len(t, ts.forms, 1)
	form := ts.forms[0]
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "R1", form.Get("refresh_token"))
	assert.Equal(t, "client-id", form.Get("client_id"))
	assert.Equal(t, "client-secret", form.Get("client_secret"))

	// A second call within the token lifetime performs no exchange.
	tok, err = tm.Token()
	require.NoError(t, err)
	assert.Equal(t, "A1", tok)
	assert.Len(t, ts.forms, 1)
}

func TestToken_RefreshesWhenExpired(t *testing.T) {
	ts := newTokenServer(t,
		map[string]any{"access_token": "A1", "refresh_token": "R2", "expires_in": 3600},
		map[string]any{"access_token": "A2", "refresh_token": "R3", "expires_in": 3600},
	)

	tm := newTestTokenManager(t, ts, "R1", nil)

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return clock }

	tok, err := tm.Token()
	require.NoError(t, err)
	assert.Equal(t, "A1", tok)

	// Just before the safety margin kicks in: still valid.
	clock = clock.Add(3600*time.Second - tokenSafetyMargin - time.Second)
	tok, err = tm.Token()
	require.NoError(t, err)
	assert.Equal(t, "A1", tok)
	assert.Len(t, ts.forms, 1)

	// Past the margin: the second exchange runs with the rotated token.
	clock = clock.Add(2 * time.Second)
	tok, err = tm.Token()
	require.NoError(t, err)
	assert.Equal(t, "A2", tok)
	require.Len(t, ts.forms, 2)
	assert.Equal(t, "R2", ts.forms[1].Get("refresh_token"))
	assert.Equal(t, "R3", tm.RefreshToken())
}

func TestToken_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	ts := newTokenServer(t, map[string]any{
		"access_token": "A1",
		"expires_in":   3600,
	})

	tm := newTestTokenManager(t, ts, "R1", nil)

	_, err := tm.Token()
	require.NoError(t, err)
	assert.Equal(t, "R1", tm.RefreshToken())
}

func TestToken_DefaultLifetimeWhenOmitted(t *testing.T) {
	ts := newTokenServer(t, map[string]any{
		"access_token":  "A1",
		"refresh_token": "R2",
	})

	tm := newTestTokenManager(t, ts, "R1", nil)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return now }

	_, err := tm.Token()
	require.NoError(t, err)
	assert.Equal(t, now.Add(defaultExpiresIn-tokenSafetyMargin), tm.expiresAt)
}

func TestToken_MissingAccessToken(t *testing.T) {
	ts := newTokenServer(t, map[string]any{"refresh_token": "R2"})

	tm := newTestTokenManager(t, ts, "R1", nil)

	_, err := tm.Token()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthentication))
	assert.Contains(t, err.Error(), "did not return an access token")
}

func TestToken_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"token revoked"}`))
	}))
	defer srv.Close()

	tm, err := NewTokenManager(testCred, "R1", nil, srv.Client(), discardLogger())
	require.NoError(t, err)

	tm.endpoint = oauth2.Endpoint{TokenURL: srv.URL + "/token"}

	_, err = tm.Token()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthentication))
	assert.Contains(t, err.Error(), "could not get access token (token revoked)")
}

// --- authorization code flow ---

// authStateRe pulls the state the manager generated out of the
// authorization URL handed to the prompter.
var authStateRe = regexp.MustCompile(`[?&]state=([^&]+)`)

func TestToken_AuthorizationCodeFlow(t *testing.T) {
	ts := newTokenServer(t, map[string]any{
		"access_token":  "A1",
		"refresh_token": "R1",
		"expires_in":    3600,
	})

	var seenAuthURL string

	prompt := PromptFunc(func(authURL string) (string, error) {
		seenAuthURL = authURL

		state := authStateRe.FindStringSubmatch(authURL)[1]

		return "http://localhost:8080/?code=CODE123&state=" + state, nil
	})

	tm := newTestTokenManager(t, ts, "", prompt)

	tok, err := tm.Token()
	require.NoError(t, err)
	assert.Equal(t, "A1", tok)

	// The authorization URL carries the registered app parameters.
	u, err := url.Parse(seenAuthURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "query", q.Get("response_mode"))
	assert.Equal(t, DefaultRedirectURL, q.Get("redirect_uri"))
	assert.Len(t, q.Get("state"), stateLength)

	require.Len(t, ts.forms, 1)
	assert.Equal(t, "authorization_code", ts.forms[0].Get("grant_type"))
	assert.Equal(t, "CODE123", ts.forms[0].Get("code"))
}

func TestToken_StateMismatch(t *testing.T) {
	ts := newTokenServer(t)

	prompt := PromptFunc(func(string) (string, error) {
		return "http://localhost:8080/?code=CODE123&state=stalestate", nil
	})

	tm := newTestTokenManager(t, ts, "", prompt)

	_, err := tm.Token()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthentication))
	assert.Contains(t, err.Error(), "not for this request")
	assert.Empty(t, ts.forms, "no code exchange after a state mismatch")
}

func TestToken_StateAbsentProceeds(t *testing.T) {
	ts := newTokenServer(t, map[string]any{
		"access_token":  "A1",
		"refresh_token": "R1",
		"expires_in":    3600,
	})

	prompt := PromptFunc(func(string) (string, error) {
		return "http://localhost:8080/?code=CODE123", nil
	})

	tm := newTestTokenManager(t, ts, "", prompt)

	tok, err := tm.Token()
	require.NoError(t, err)
	assert.Equal(t, "A1", tok)
}

func TestToken_MissingCode(t *testing.T) {
	ts := newTokenServer(t)

	prompt := PromptFunc(func(string) (string, error) {
		return "http://localhost:8080/?error=access_denied", nil
	})

	tm := newTestTokenManager(t, ts, "", prompt)

	_, err := tm.Token()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not contain an authorization code")
}

func TestToken_NoPrompter(t *testing.T) {
	ts := newTokenServer(t)

	tm := newTestTokenManager(t, ts, "", nil)

	_, err := tm.Token()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthentication))
	assert.Empty(t, ts.forms)
}

// --- generateState ---

func TestGenerateState(t *testing.T) {
	seen := map[string]bool{}

	for i := 0; i < 20; i++ {
		state, err := generateState()
		require.NoError(t, err)
		require.Len(t, state, stateLength)

		for _, r := range state {
			assert.True(t, strings.ContainsRune(stateAlphabet, r))
		}

		seen[state] = true
	}

	assert.Greater(t, len(seen), 1, "states should not repeat")
}

// --- ConsolePrompter ---

func TestConsolePrompter(t *testing.T) {
	var out strings.Builder

	p := ConsolePrompter{
		In:  strings.NewReader("http://localhost:8080/?code=abc&state=xyz\n"),
		Out: &out,
	}

	resp, err := p.Authorize("https://example.test/authorize?client_id=x")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/?code=abc&state=xyz", resp)
	assert.Contains(t, out.String(), "https://example.test/authorize?client_id=x")
	assert.Contains(t, out.String(), "paste the response")
}
