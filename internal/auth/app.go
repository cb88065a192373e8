package auth

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultAppScope asks for the application permissions granted to the client.
const DefaultAppScope = "https://graph.microsoft.com/.default"

// AppAuthorizer authenticates as the application itself (client-credentials
// grant). The scheduler uses it when no delegated service credential is
// configured.
type AppAuthorizer struct {
	cfg        *clientcredentials.Config
	httpClient *http.Client

	mu  sync.Mutex
	tok *oauth2.Token
}

func NewAppAuthorizer(cfg Config, httpClient *http.Client, scopes ...string) *AppAuthorizer {
	if len(scopes) == 0 {
		scopes = []string{DefaultAppScope}
	}
	ep := cfg.Endpoint()
	return &AppAuthorizer{
		cfg: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     ep.TokenURL,
			Scopes:       scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

func (a *AppAuthorizer) AuthorizedHeaders(ctx context.Context) (http.Header, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tok == nil || !a.tok.Valid() {
		if !a.fetchLocked(ctx) {
			return nil, false
		}
	}
	return bearer(a.tok.AccessToken), true
}

// RefreshAccessToken requests a fresh application token unless another
// caller already replaced the rejected one.
func (a *AppAuthorizer) RefreshAccessToken(ctx context.Context, rejected string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tok != nil && a.tok.Valid() && a.tok.AccessToken != rejected {
		return a.tok.AccessToken, true
	}

	if !a.fetchLocked(ctx) {
		return "", false
	}
	return a.tok.AccessToken, true
}

func (a *AppAuthorizer) fetchLocked(ctx context.Context) bool {
	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}
	tok, err := a.cfg.Token(ctx)
	if err != nil {
		logTokenError("client credentials grant failed", err)
		a.tok = nil
		return false
	}
	a.tok = tok
	return true
}
