// Package auth keeps a valid bearer credential available to every Graph call:
// it builds the authorization redirect, exchanges codes, refreshes expired
// access tokens and hands out Authorization headers.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/sync/singleflight"

	"github.com/digitaldrywood/taskpulse/internal/logger"
)

// Authorizer yields bearer headers for one credential holder and can force a
// single refresh when the resource server rejects the current token.
// rejected is the access token that was refused ("" when none was sent); a
// holder that already moved past it returns its current token instead.
type Authorizer interface {
	AuthorizedHeaders(ctx context.Context) (http.Header, bool)
	RefreshAccessToken(ctx context.Context, rejected string) (string, bool)
}

type Config struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURL  string
	Scopes       []string

	// AuthorityHost overrides https://login.microsoftonline.com.
	AuthorityHost string
}

// Endpoint returns the v2.0 authorize/token endpoints for the tenant.
func (c Config) Endpoint() oauth2.Endpoint {
	tenant := c.TenantID
	if tenant == "" {
		tenant = "common"
	}
	if c.AuthorityHost == "" {
		return microsoft.AzureADEndpoint(tenant)
	}
	base := strings.TrimRight(c.AuthorityHost, "/") + "/" + tenant + "/oauth2/v2.0"
	return oauth2.Endpoint{
		AuthURL:   base + "/authorize",
		TokenURL:  base + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// Manager runs the authorization-code and refresh-token grants against the
// identity provider. It holds no per-user state; every operation works on
// the CredentialStore it is handed.
type Manager struct {
	oauth      *oauth2.Config
	httpClient *http.Client

	// refreshes collapses concurrent redemptions of one refresh token.
	refreshes singleflight.Group
}

func NewManager(cfg Config, httpClient *http.Client) *Manager {
	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     cfg.Endpoint(),
		},
		httpClient: httpClient,
	}
}

func (m *Manager) ctx(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// AuthorizationURL builds the provider redirect. The caller performs the
// redirect and keeps state for the callback check.
func (m *Manager) AuthorizationURL(state string) string {
	return m.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

// Exchange trades an authorization code for tokens and stores them. A
// rejected code is an expected outcome, so it is logged and reported as
// false rather than returned as an error.
func (m *Manager) Exchange(ctx context.Context, store CredentialStore, code string) bool {
	tok, err := m.oauth.Exchange(m.ctx(ctx), code,
		oauth2.SetAuthURLParam("scope", strings.Join(m.oauth.Scopes, " ")))
	if err != nil {
		logTokenError("token exchange failed", err)
		return false
	}

	store.SetCredential(Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	})
	logger.Debug("token exchange succeeded", "has_refresh_token", tok.RefreshToken != "")
	return true
}

// Refresh redeems the stored refresh token. Without one it returns at once
// without touching the network. A rotated refresh token replaces the stored
// one; otherwise the old refresh token is kept.
//
// Callers that raced on the same rejected token share one token request, and
// a caller arriving after the store already moved past rejected gets the new
// access token without a request. The credential is cleared only when the
// provider rejects the refresh token the store still holds, which sends the
// session back to the unauthenticated state.
func (m *Manager) Refresh(ctx context.Context, store CredentialStore, rejected string) (string, bool) {
	cred := store.Credential()
	if cred.AccessToken != "" && cred.AccessToken != rejected {
		return cred.AccessToken, true
	}
	if cred.RefreshToken == "" {
		return "", false
	}

	v, err, _ := m.refreshes.Do(cred.RefreshToken, func() (any, error) {
		src := m.oauth.TokenSource(m.ctx(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
		return src.Token()
	})
	if err != nil {
		if cur := store.Credential(); cur != cred {
			if cur.AccessToken != "" {
				return cur.AccessToken, true
			}
			return "", false
		}
		logTokenError("token refresh failed", err)
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			store.Clear()
		}
		return "", false
	}
	tok := v.(*oauth2.Token)

	next := Credential{AccessToken: tok.AccessToken, RefreshToken: cred.RefreshToken}
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	store.SetCredential(next)
	logger.Debug("access token refreshed", "rotated", next.RefreshToken != cred.RefreshToken)
	return tok.AccessToken, true
}

// AuthorizedHeaders returns the bearer header for the stored access token,
// trying one silent refresh when no access token is held. It never starts an
// interactive login.
func (m *Manager) AuthorizedHeaders(ctx context.Context, store CredentialStore) (http.Header, bool) {
	token := store.Credential().AccessToken
	if token == "" {
		var ok bool
		if token, ok = m.Refresh(ctx, store, ""); !ok {
			return nil, false
		}
	}
	return bearer(token), true
}

// For binds the manager to one credential store.
func (m *Manager) For(store CredentialStore) Authorizer {
	return &sessionAuthorizer{m: m, store: store}
}

type sessionAuthorizer struct {
	m     *Manager
	store CredentialStore
}

func (a *sessionAuthorizer) AuthorizedHeaders(ctx context.Context) (http.Header, bool) {
	return a.m.AuthorizedHeaders(ctx, a.store)
}

func (a *sessionAuthorizer) RefreshAccessToken(ctx context.Context, rejected string) (string, bool) {
	return a.m.Refresh(ctx, a.store, rejected)
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func logTokenError(msg string, err error) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		logger.Warn(msg, "status", re.Response.StatusCode, "body", string(re.Body))
		return
	}
	logger.Warn(msg, "error", err)
}
