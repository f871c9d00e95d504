package graph

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// Defaults applied to a Credential when fields are left empty.
const (
	DefaultTenant      = "common"
	DefaultRedirectURL = "http://localhost:8080"
	DefaultScope       = "offline_access files.readwrite"
)

// tokenSafetyMargin is subtracted from the server-reported token lifetime
// so a token is refreshed before it actually expires.
const tokenSafetyMargin = 60 * time.Second

// defaultExpiresIn is assumed when the token response omits expires_in.
const defaultExpiresIn = 660 * time.Second

// stateLength is the number of alphanumeric characters in the anti-CSRF
// state parameter of the authorization URL.
const stateLength = 10

const stateAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// The operator pastes back the full redirect response URL, which may point
// at an error page or be truncated, so code and state are extracted by
// pattern matching on the query string rather than by strict URL parsing.
var (
	stateParamRe = regexp.MustCompile(`[?&]state=([^&]+)`)
	codeParamRe  = regexp.MustCompile(`[?&]code=([^&]+)`)
)

// Credential identifies the registered application. Immutable after
// construction; provided once when the token manager is created.
type Credential struct {
	ClientID     string
	ClientSecret string
	Tenant       string
	RedirectURL  string
	Scope        string
}

// withDefaults returns a copy with empty optional fields filled in.
func (c Credential) withDefaults() Credential {
	if c.Tenant == "" {
		c.Tenant = DefaultTenant
	}

	if c.RedirectURL == "" {
		c.RedirectURL = DefaultRedirectURL
	}

	if c.Scope == "" {
		c.Scope = DefaultScope
	}

	return c
}

func (c Credential) validate() error {
	if c.ClientID == "" {
		return usageError("client id must not be empty")
	}

	if c.ClientSecret == "" {
		return usageError("client secret must not be empty")
	}

	return nil
}

// Prompter carries out the operator side of the authorization-code flow:
// present the authorization URL out-of-band and return the full redirect
// response URL the operator pasted back.
type Prompter interface {
	Authorize(authURL string) (responseURL string, err error)
}

// TokenSource provides bearer tokens for API calls. Defined at the
// consumer; *TokenManager is the real implementation.
type TokenSource interface {
	Token() (string, error)
}

// TokenManager owns the access/refresh token state for one client
// instance. Token is the ensure-valid gate called before every authorized
// request: it refreshes the access token when the expiry (minus safety
// margin) has passed, or runs the interactive authorization-code flow when
// no refresh token exists. All token state is guarded by a mutex so at
// most one refresh is ever in flight.
type TokenManager struct {
	cred       Credential
	endpoint   oauth2.Endpoint
	httpClient *http.Client
	prompt     Prompter
	logger     *slog.Logger

	// now is the clock; tests override it.
	now func() time.Time

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewTokenManager creates a token manager. refreshToken may be empty, in
// which case the first Token call runs the interactive authorization flow
// via the prompter. No network call is made here.
func NewTokenManager(
	cred Credential, refreshToken string, prompt Prompter,
	httpClient *http.Client, logger *slog.Logger,
) (*TokenManager, error) {
	cred = cred.withDefaults()
	if err := cred.validate(); err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &TokenManager{
		cred:         cred,
		endpoint:     microsoft.AzureADEndpoint(cred.Tenant),
		httpClient:   httpClient,
		prompt:       prompt,
		logger:       logger,
		now:          time.Now,
		refreshToken: refreshToken,
	}, nil
}

// Token returns a valid access token, refreshing or authorizing first when
// the stored one is missing or past its safety-margin expiry. Calling it
// again without time passing performs no further exchange.
func (m *TokenManager) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expiresAt.IsZero() || !m.expiresAt.After(m.now()) {
		if err := m.refreshOrAuthorize(); err != nil {
			return "", err
		}
	}

	return m.accessToken, nil
}

// RefreshToken returns the current refresh token so callers can persist it
// for the next session. The token rotates on each exchange.
func (m *TokenManager) RefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.refreshToken
}

// refreshOrAuthorize exchanges the stored refresh token, or runs the
// interactive authorization-code flow when none exists. Caller holds mu.
func (m *TokenManager) refreshOrAuthorize() error {
	form := url.Values{
		"client_id":     {m.cred.ClientID},
		"client_secret": {m.cred.ClientSecret},
		"scope":         {m.cred.Scope},
		"redirect_uri":  {m.cred.RedirectURL},
	}

	if m.refreshToken != "" {
		m.logger.Info("refreshing access token")
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", m.refreshToken)
	} else {
		code, err := m.authorizationCode()
		if err != nil {
			return err
		}

		m.logger.Info("exchanging authorization code for tokens")
		form.Set("grant_type", "authorization_code")
		form.Set("code", code)
	}

	return m.exchange(form)
}

// exchange POSTs the url-encoded form to the token endpoint and updates
// the token state from the response. Caller holds mu.
func (m *TokenManager) exchange(form url.Values) error {
	req, err := http.NewRequest(http.MethodPost, m.endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("graph: creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph: token request failed: %w", err)
	}
	defer resp.Body.Close()

	if chkErr := checkStatus(resp, ErrAuthentication, "could not get access token", http.StatusOK); chkErr != nil {
		return chkErr
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}

	if decErr := decodeJSON(resp, ErrAuthentication, "could not get access token", &payload); decErr != nil {
		return decErr
	}

	if payload.AccessToken == "" {
		m.logger.Error("token response missing access token")

		return fmt.Errorf("%w: response did not return an access token", ErrAuthentication)
	}

	m.accessToken = payload.AccessToken

	if payload.RefreshToken != "" {
		m.refreshToken = payload.RefreshToken
	} else {
		// Keep the prior refresh token; the session continues but a new
		// one cannot be persisted for next time.
		m.logger.Warn("token response did not return a refresh token, existing one kept")
	}

	lifetime := defaultExpiresIn
	if payload.ExpiresIn > 0 {
		lifetime = time.Duration(payload.ExpiresIn) * time.Second
	}

	m.expiresAt = m.now().Add(lifetime - tokenSafetyMargin)
	m.logger.Info("access token acquired", slog.Time("expires", m.expiresAt))

	return nil
}

// authorizationCode builds the authorization URL, hands it to the prompter,
// and extracts the single-use authorization code from the pasted redirect
// response URL, verifying the anti-CSRF state.
func (m *TokenManager) authorizationCode() (string, error) {
	if m.prompt == nil {
		return "", fmt.Errorf("%w: no refresh token and no prompter for interactive authorization", ErrAuthentication)
	}

	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("graph: generating state: %w", err)
	}

	cfg := oauth2.Config{
		ClientID:     m.cred.ClientID,
		ClientSecret: m.cred.ClientSecret,
		Endpoint:     m.endpoint,
		RedirectURL:  m.cred.RedirectURL,
		Scopes:       strings.Fields(m.cred.Scope),
	}

	authURL := cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))

	m.logger.Info("interactive authorization required")

	responseURL, err := m.prompt.Authorize(authURL)
	if err != nil {
		return "", fmt.Errorf("graph: reading authorization response: %w", err)
	}

	responseURL = strings.TrimSpace(responseURL)

	// The returned state confirms the response belongs to this request. A
	// mismatch means an old authorization URL was reused; absence is only
	// a degraded confirmation, not a failure.
	if match := stateParamRe.FindStringSubmatch(responseURL); match != nil {
		if match[1] != state {
			m.logger.Error("authorization response state mismatch")

			return "", fmt.Errorf(
				"%w: response 'state' not for this request, occurs when reusing an old authorization url",
				ErrAuthentication)
		}
	} else {
		m.logger.Warn("response 'state' was not in returned url, response not confirmed")
	}

	match := codeParamRe.FindStringSubmatch(responseURL)
	if match == nil {
		m.logger.Error("authorization response missing code")

		return "", fmt.Errorf("%w: response did not contain an authorization code", ErrAuthentication)
	}

	return match[1], nil
}

// generateState produces the random alphanumeric anti-CSRF state.
func generateState() (string, error) {
	var b strings.Builder
	for i := 0; i < stateLength; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(stateAlphabet))))
		if err != nil {
			return "", err
		}

		b.WriteByte(stateAlphabet[idx.Int64()])
	}

	return b.String(), nil
}

// PromptFunc adapts a function to the Prompter interface.
type PromptFunc func(authURL string) (string, error)

func (f PromptFunc) Authorize(authURL string) (string, error) {
	return f(authURL)
}

// ConsolePrompter prints the authorization steps to Out and reads the
// pasted response URL from In. It is the default operator-facing prompter.
type ConsolePrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p ConsolePrompter) Authorize(authURL string) (string, error) {
	fmt.Fprintln(p.Out, "Manual app authorization required.")
	fmt.Fprintln(p.Out, "Step 1: Copy the below URL and paste into a web browser.")
	fmt.Fprintln(p.Out, "AUTHORIZATION URL --------------")
	fmt.Fprintln(p.Out, authURL)
	fmt.Fprintln(p.Out, "--------------------------------")
	fmt.Fprintln(p.Out, "Step 2: Authorize the app using your account.")
	fmt.Fprintln(p.Out, "You will be redirected (potentially to an error page - this is normal).")
	fmt.Fprintln(p.Out, "Step 3: Copy the entire response URL address.")
	fmt.Fprint(p.Out, "Step 4: paste the response here: ")

	var response string
	if _, err := fmt.Fscanln(p.In, &response); err != nil {
		return "", err
	}

	return response, nil
}
