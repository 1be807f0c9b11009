package jira

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// StateCookie carries the CSRF state between login and callback.
	StateCookie = "jira_auth_state"
	// AuthCookie carries the encoded AuthState.
	AuthCookie = "jira_auth_data"

	defaultAuthURL  = "https://auth.atlassian.com/authorize"
	defaultTokenURL = "https://auth.atlassian.com/oauth/token"

	stateCookieMaxAge = 10 * 60
	authCookieMaxAge  = 30 * 24 * 60 * 60
	stateBytes        = 32

	// defaultTokenLifetime applies when the token response omits expires_in.
	defaultTokenLifetime = time.Hour
)

// Callback failure reasons, reported to the browser in the error redirect.
const (
	ReasonMissingState        = "missing_state"
	ReasonInvalidState        = "invalid_state"
	ReasonNoCode              = "no_code"
	ReasonTokenExchangeFailed = "token_exchange_failed"
	ReasonServerError         = "server_error"
)

var defaultScopes = []string{"read:jira-work", "read:jira-user", "offline_access"}

var (
	// ErrNotAuthenticated is returned when no usable token is available.
	ErrNotAuthenticated = errors.New("not authenticated with jira")
	// ErrNoTenant is returned when the token grants access to no site.
	ErrNoTenant = errors.New("no accessible jira site")
)

// CallbackError is a failed OAuth callback. Reason is one of the Reason* codes.
type CallbackError struct {
	Reason string
	Err    error
}

func (e *CallbackError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oauth callback failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("oauth callback failed (%s)", e.Reason)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// Config configures a TokenManager.
type Config struct {
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	AppURL        string
	SecureCookies bool

	// AuthURL and TokenURL override the hosted OAuth endpoints.
	AuthURL  string
	TokenURL string
}

// TokenManager runs the OAuth authorization-code flow and keeps the
// resulting tokens in an HTTP-only cookie. It holds no per-user state.
type TokenManager struct {
	oauth  oauth2.Config
	appURL string
	secure bool
	client *Client
	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenManager creates a TokenManager. client resolves tenants.
func NewTokenManager(cfg Config, client *Client) *TokenManager {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &TokenManager{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       defaultScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		appURL: strings.TrimRight(cfg.AppURL, "/"),
		secure: cfg.SecureCookies,
		client: client,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// SuccessURL is where the browser lands after a completed login.
func (m *TokenManager) SuccessURL() string {
	return m.appURL + "/jira/success"
}

// ErrorURL is where the browser lands after a failed callback.
func (m *TokenManager) ErrorURL(reason string) string {
	return m.appURL + "/jira/error?error=" + url.QueryEscape(reason)
}

// BeginLogin issues a fresh state cookie and returns the authorize URL.
func (m *TokenManager) BeginLogin(w http.ResponseWriter) (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	state := hex.EncodeToString(buf)

	http.SetCookie(w, m.cookie(StateCookie, state, stateCookieMaxAge))
	return m.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", "api.atlassian.com"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// CompleteCallback validates the callback request and exchanges its code.
// Any failure is a *CallbackError and leaves no auth cookie behind.
func (m *TokenManager) CompleteCallback(w http.ResponseWriter, r *http.Request) (AuthState, error) {
	q := r.URL.Query()
	state := q.Get("state")
	var cookieState string
	if c, err := r.Cookie(StateCookie); err == nil {
		cookieState = c.Value
	}
	// The state is single use whatever the outcome.
	http.SetCookie(w, m.cookie(StateCookie, "", -1))

	if state == "" || cookieState == "" {
		return AuthState{}, &CallbackError{Reason: ReasonMissingState}
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(cookieState)) != 1 {
		return AuthState{}, &CallbackError{Reason: ReasonInvalidState}
	}
	code := q.Get("code")
	if code == "" {
		return AuthState{}, &CallbackError{Reason: ReasonNoCode}
	}

	tok, err := m.oauth.Exchange(r.Context(), code)
	if err != nil {
		return AuthState{}, &CallbackError{Reason: ReasonTokenExchangeFailed, Err: err}
	}

	st := AuthState{
		IsAuthenticated: true,
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		ExpiresAt:       m.expiry(tok),
	}
	if err := m.write(w, st); err != nil {
		return AuthState{}, &CallbackError{Reason: ReasonServerError, Err: err}
	}
	return st, nil
}

// Current reads the auth cookie. An undecodable cookie is unauthenticated.
func (m *TokenManager) Current(r *http.Request) (AuthState, State) {
	c, err := r.Cookie(AuthCookie)
	if err != nil || c.Value == "" {
		if sc, err := r.Cookie(StateCookie); err == nil && sc.Value != "" {
			return AuthState{}, StatePendingCallback
		}
		return AuthState{}, StateUnauthenticated
	}

	st, err := decodeState(c.Value)
	if err != nil {
		m.logger.Warn("discarding unreadable jira auth cookie", "error", err)
		return AuthState{}, StateUnauthenticated
	}
	if !st.IsAuthenticated || st.AccessToken == "" {
		return AuthState{}, StateUnauthenticated
	}
	if st.ExpiresAt <= m.now().UnixMilli() {
		return st, StateExpired
	}
	return st, StateAuthenticated
}

// Authorize returns a usable AuthState for r, refreshing an expired token
// when a refresh token is available.
func (m *TokenManager) Authorize(ctx context.Context, w http.ResponseWriter, r *http.Request) (AuthState, error) {
	st, state := m.Current(r)
	switch state {
	case StateAuthenticated:
		return st, nil
	case StateExpired:
		return m.Refresh(ctx, w, st)
	default:
		return AuthState{}, ErrNotAuthenticated
	}
}

// Refresh exchanges st's refresh token for a new access token. On failure
// the auth cookie is cleared.
func (m *TokenManager) Refresh(ctx context.Context, w http.ResponseWriter, st AuthState) (AuthState, error) {
	if st.RefreshToken == "" {
		m.clear(w)
		return AuthState{}, ErrNotAuthenticated
	}

	src := m.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: st.RefreshToken,
		Expiry:       m.now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		m.logger.Warn("jira token refresh failed", "error", err)
		m.clear(w)
		return AuthState{}, fmt.Errorf("%w: refresh failed: %v", ErrNotAuthenticated, err)
	}

	st.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		st.RefreshToken = tok.RefreshToken
	}
	st.ExpiresAt = m.expiry(tok)
	st.IsAuthenticated = true
	if err := m.write(w, st); err != nil {
		return AuthState{}, err
	}
	return st, nil
}

// ResolveTenant fills in st.CloudID from the first accessible site.
// Concurrent resolutions for the same token share one upstream call.
func (m *TokenManager) ResolveTenant(ctx context.Context, w http.ResponseWriter, st AuthState) (AuthState, error) {
	if st.CloudID != "" {
		return st, nil
	}

	v, err, _ := m.group.Do(st.AccessToken, func() (any, error) {
		resources, err := m.client.AccessibleResources(ctx, st.AccessToken)
		if err != nil {
			return "", err
		}
		if len(resources) == 0 {
			return "", ErrNoTenant
		}
		return resources[0].ID, nil
	})
	if err != nil {
		return st, fmt.Errorf("resolving jira site: %w", err)
	}

	st.CloudID = v.(string)
	if err := m.write(w, st); err != nil {
		return st, err
	}
	return st, nil
}

// SelectProject records the chosen project in the auth cookie.
func (m *TokenManager) SelectProject(w http.ResponseWriter, st AuthState, projectID string) (AuthState, error) {
	st.SelectedProjectID = projectID
	if err := m.write(w, st); err != nil {
		return st, err
	}
	return st, nil
}

// Logout clears the auth and state cookies.
func (m *TokenManager) Logout(w http.ResponseWriter) {
	m.clear(w)
	http.SetCookie(w, m.cookie(StateCookie, "", -1))
}

func (m *TokenManager) clear(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie(AuthCookie, "", -1))
}

func (m *TokenManager) write(w http.ResponseWriter, st AuthState) error {
	v, err := encodeState(st)
	if err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(AuthCookie, v, authCookieMaxAge))
	return nil
}

func (m *TokenManager) expiry(tok *oauth2.Token) int64 {
	if tok.Expiry.IsZero() {
		return m.now().Add(defaultTokenLifetime).UnixMilli()
	}
	return tok.Expiry.UnixMilli()
}

func (m *TokenManager) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func encodeState(st AuthState) (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("encoding auth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeState(v string) (AuthState, error) {
	data, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return AuthState{}, fmt.Errorf("decoding auth cookie: %w", err)
	}
	var st AuthState
	if err := json.Unmarshal(data, &st); err != nil {
		return AuthState{}, fmt.Errorf("parsing auth cookie: %w", err)
	}
	return st, nil
}
