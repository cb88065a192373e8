package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeProvider stands in for the identity provider token endpoint.
type fakeProvider struct {
	t *testing.T

	mu       sync.Mutex
	calls    int
	forms    []url.Values
	status   int
	response map[string]any
}

func newFakeProvider(t *testing.T) (*fakeProvider, *httptest.Server) {
	p := &fakeProvider{t: t, status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(srv.Close)
	return p, srv
}

func (p *fakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token") {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		p.t.Errorf("Failed to parse token form: %v", err)
	}

	p.mu.Lock()
	p.calls++
	p.forms = append(p.forms, r.PostForm)
	status, resp := p.status, p.response
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) lastForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.forms) == 0 {
		return nil
	}
	return p.forms[len(p.forms)-1]
}

func newTestManager(srv *httptest.Server) *Manager {
	return NewManager(Config{
		ClientID:      "client-123",
		ClientSecret:  "secret",
		TenantID:      "tenant-1",
		RedirectURL:   "http://localhost:5000/callback",
		Scopes:        []string{"User.Read", "Sites.Read.All", "offline_access"},
		AuthorityHost: srv.URL,
	}, srv.Client())
}

func TestAuthorizationURL(t *testing.T) {
	_, srv := newFakeProvider(t)
	m := newTestManager(srv)

	raw := m.AuthorizationURL("state-xyz")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Failed to parse authorization URL: %v", err)
	}

	if !strings.HasSuffix(u.Path, "/tenant-1/oauth2/v2.0/authorize") {
		t.Errorf("Unexpected authorize path %s", u.Path)
	}
	q := u.Query()
	expect := map[string]string{
		"client_id":     "client-123",
		"response_type": "code",
		"redirect_uri":  "http://localhost:5000/callback",
		"response_mode": "query",
		"scope":         "User.Read Sites.Read.All offline_access",
		"state":         "state-xyz",
	}
	for k, want := range expect {
		if got := q.Get(k); got != want {
			t.Errorf("Expected %s=%q, got %q", k, want, got)
		}
	}
}

func TestEndpointDefaultsToAzureAD(t *testing.T) {
	ep := Config{TenantID: "contoso"}.Endpoint()
	if ep.TokenURL != "https://login.microsoftonline.com/contoso/oauth2/v2.0/token" {
		t.Errorf("Unexpected token URL %s", ep.TokenURL)
	}
}

func TestExchangeStoresTokens(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.response = map[string]any{"access_token": "at-1", "refresh_token": "rt-1", "expires_in": 3600, "token_type": "Bearer"}
	m := newTestManager(srv)
	s := NewSession("s1", Credential{})

	if !m.Exchange(context.Background(), s, "code-abc") {
		t.Fatal("Expected exchange to succeed")
	}

	got := s.Credential()
	if got.AccessToken != "at-1" || got.RefreshToken != "rt-1" {
		t.Errorf("Unexpected credential %+v", got)
	}
	form := p.lastForm()
	if form.Get("grant_type") != "authorization_code" || form.Get("code") != "code-abc" {
		t.Errorf("Unexpected token form %v", form)
	}
	if form.Get("client_id") != "client-123" || form.Get("client_secret") != "secret" {
		t.Errorf("Expected client credentials in form, got %v", form)
	}
	if form.Get("scope") != "User.Read Sites.Read.All offline_access" {
		t.Errorf("Expected scope in form, got %q", form.Get("scope"))
	}
	if !s.Dirty() {
		t.Error("Expected session to be marked dirty")
	}
}

func TestExchangeFailureLeavesStoreUntouched(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response map[string]any
	}{
		{"rejected code", http.StatusBadRequest, map[string]any{"error": "invalid_grant"}},
		{"missing access token", http.StatusOK, map[string]any{"refresh_token": "rt-only"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, srv := newFakeProvider(t)
			p.status = tt.status
			p.response = tt.response
			m := newTestManager(srv)
			s := NewSession("s1", Credential{})

			if m.Exchange(context.Background(), s, "bad") {
				t.Fatal("Expected exchange to fail")
			}
			if got := s.Credential(); got != (Credential{}) {
				t.Errorf("Expected empty credential, got %+v", got)
			}
		})
	}
}

func TestRefreshWithoutRefreshTokenMakesNoCall(t *testing.T) {
	p, srv := newFakeProvider(t)
	m := newTestManager(srv)
	s := NewSession("s1", Credential{})

	if tok, ok := m.Refresh(context.Background(), s, ""); ok || tok != "" {
		t.Errorf("Expected no token, got %q", tok)
	}
	if p.callCount() != 0 {
		t.Errorf("Expected zero token calls, got %d", p.callCount())
	}
}

func TestRefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.response = map[string]any{"access_token": "at-2", "expires_in": 3600}
	m := newTestManager(srv)
	s := NewSession("s1", Credential{AccessToken: "at-1", RefreshToken: "rt-1"})

	tok, ok := m.Refresh(context.Background(), s, "at-1")
	if !ok || tok != "at-2" {
		t.Fatalf("Expected refreshed token at-2, got %q ok=%v", tok, ok)
	}
	got := s.Credential()
	if got.AccessToken != "at-2" || got.RefreshToken != "rt-1" {
		t.Errorf("Expected refresh token unchanged, got %+v", got)
	}
	form := p.lastForm()
	if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "rt-1" {
		t.Errorf("Unexpected refresh form %v", form)
	}
}

func TestRefreshStoresRotatedRefreshToken(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.response = map[string]any{"access_token": "at-2", "refresh_token": "rt-2", "expires_in": 3600}
	m := newTestManager(srv)
	s := NewSession("s1", Credential{AccessToken: "at-1", RefreshToken: "rt-1"})

	if _, ok := m.Refresh(context.Background(), s, "at-1"); !ok {
		t.Fatal("Expected refresh to succeed")
	}
	if got := s.Credential(); got.RefreshToken != "rt-2" || got.AccessToken != "at-2" {
		t.Errorf("Expected rotated credential, got %+v", got)
	}
}

func TestRefreshFailureClearsCredential(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.status = http.StatusBadRequest
	p.response = map[string]any{"error": "invalid_grant"}
	m := newTestManager(srv)
	s := NewSession("s1", Credential{AccessToken: "stale", RefreshToken: "rt-1"})

	if _, ok := m.Refresh(context.Background(), s, "stale"); ok {
		t.Fatal("Expected refresh to fail")
	}
	if got := s.Credential(); got != (Credential{}) {
		t.Errorf("Expected credential cleared, got %+v", got)
	}
}

func TestAuthorizedHeaders(t *testing.T) {
	t.Run("uses stored access token", func(t *testing.T) {
		p, srv := newFakeProvider(t)
		m := newTestManager(srv)
		s := NewSession("s1", Credential{AccessToken: "at-1", RefreshToken: "rt-1"})

		h, ok := m.AuthorizedHeaders(context.Background(), s)
		if !ok || h.Get("Authorization") != "Bearer at-1" {
			t.Errorf("Unexpected headers %v ok=%v", h, ok)
		}
		if p.callCount() != 0 {
			t.Errorf("Expected no token calls, got %d", p.callCount())
		}
	})

	t.Run("refreshes when access token missing", func(t *testing.T) {
		p, srv := newFakeProvider(t)
		p.response = map[string]any{"access_token": "at-new", "expires_in": 3600}
		m := newTestManager(srv)
		s := NewSession("s1", Credential{RefreshToken: "rt-1"})

		h, ok := m.For(s).AuthorizedHeaders(context.Background())
		if !ok || h.Get("Authorization") != "Bearer at-new" {
			t.Errorf("Unexpected headers %v ok=%v", h, ok)
		}
		if p.callCount() != 1 {
			t.Errorf("Expected exactly one refresh call, got %d", p.callCount())
		}
	})

	t.Run("none without any token", func(t *testing.T) {
		p, srv := newFakeProvider(t)
		m := newTestManager(srv)
		s := NewSession("s1", Credential{})

		if h, ok := m.AuthorizedHeaders(context.Background(), s); ok || h != nil {
			t.Errorf("Expected no headers, got %v", h)
		}
		if p.callCount() != 0 {
			t.Errorf("Expected zero token calls, got %d", p.callCount())
		}
	})
}

func TestAppAuthorizerCachesToken(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.response = map[string]any{"access_token": "app-1", "expires_in": 3600}
	a := NewAppAuthorizer(Config{
		ClientID:      "client-123",
		ClientSecret:  "secret",
		TenantID:      "tenant-1",
		AuthorityHost: srv.URL,
	}, srv.Client())

	for i := 0; i < 3; i++ {
		h, ok := a.AuthorizedHeaders(context.Background())
		if !ok || h.Get("Authorization") != "Bearer app-1" {
			t.Fatalf("Unexpected headers %v ok=%v", h, ok)
		}
	}
	if p.callCount() != 1 {
		t.Errorf("Expected cached token to be reused, got %d calls", p.callCount())
	}
	form := p.lastForm()
	if form.Get("grant_type") != "client_credentials" || form.Get("scope") != DefaultAppScope {
		t.Errorf("Unexpected client credentials form %v", form)
	}

	if _, ok := a.RefreshAccessToken(context.Background(), "app-1"); !ok {
		t.Fatal("Expected forced refresh to succeed")
	}
	if p.callCount() != 2 {
		t.Errorf("Expected forced refresh to hit the endpoint, got %d calls", p.callCount())
	}
}

func TestRefreshReusesTokenAlreadyReplaced(t *testing.T) {
	p, srv := newFakeProvider(t)
	m := newTestManager(srv)
	s := NewSession("s1", Credential{AccessToken: "at-2", RefreshToken: "rt-2"})

	tok, ok := m.Refresh(context.Background(), s, "at-1")
	if !ok || tok != "at-2" {
		t.Fatalf("Expected current token at-2, got %q ok=%v", tok, ok)
	}
	if p.callCount() != 0 {
		t.Errorf("Expected zero token calls, got %d", p.callCount())
	}
}

// movingStore swaps in a rotated credential the first time it is read back
// after the refresh started, as a concurrent refresh on the same session would.
type movingStore struct {
	*Session
	reads int
	moved Credential
}

func (s *movingStore) Credential() Credential {
	s.reads++
	if s.reads == 2 {
		s.Session.SetCredential(s.moved)
	}
	return s.Session.Credential()
}

func TestRejectedRefreshKeepsCredentialRotatedMeanwhile(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.status = http.StatusBadRequest
	p.response = map[string]any{"error": "invalid_grant"}
	m := newTestManager(srv)
	s := &movingStore{
		Session: NewSession("s1", Credential{AccessToken: "at-1", RefreshToken: "rt-1"}),
		moved:   Credential{AccessToken: "at-2", RefreshToken: "rt-2"},
	}

	tok, ok := m.Refresh(context.Background(), s, "at-1")
	if !ok || tok != "at-2" {
		t.Fatalf("Expected the rotated token at-2, got %q ok=%v", tok, ok)
	}
	if got := s.Session.Credential(); got != s.moved {
		t.Errorf("Expected rotated credential kept, got %+v", got)
	}
	if p.callCount() != 1 {
		t.Errorf("Expected one token call, got %d", p.callCount())
	}
}

func TestConcurrentRefreshSharesOneRequest(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at-2", "refresh_token": "rt-2", "expires_in": 3600})
	}))
	t.Cleanup(srv.Close)

	m := newTestManager(srv)
	s := NewSession("s1", Credential{AccessToken: "at-1", RefreshToken: "rt-1"})

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = m.Refresh(context.Background(), s, "at-1")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, tok := range results {
		if tok != "at-2" {
			t.Errorf("caller %d got %q, want at-2", i, tok)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected one shared token call, got %d", calls)
	}
	if got := s.Credential(); got.RefreshToken != "rt-2" {
		t.Errorf("Expected rotated refresh token, got %+v", got)
	}
}
