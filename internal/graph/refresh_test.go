package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/digitaldrywood/taskpulse/internal/auth"
)

// rotatingProvider accepts only the refresh token it issued last and rotates
// it on every successful redemption.
type rotatingProvider struct {
	mu      sync.Mutex
	current string
	issued  int
}

func (p *rotatingProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.PostForm.Get("refresh_token") != p.current {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	p.issued++
	p.current = fmt.Sprintf("rt-%d", p.issued+1)
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  fmt.Sprintf("at-%d", p.issued+1),
		"refresh_token": p.current,
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
}

func TestConcurrentUnauthorizedCallsKeepRotatedCredential(t *testing.T) {
	idp := &rotatingProvider{current: "rt-1"}
	idpSrv := httptest.NewServer(idp)
	t.Cleanup(idpSrv.Close)

	const callers = 2
	var (
		mu       sync.Mutex
		rejected int
		both     = make(chan struct{})
	)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer at-1" {
			mu.Lock()
			rejected++
			if rejected == callers {
				close(both)
			}
			mu.Unlock()

			// Hold the first 401 until every caller has been rejected.
			select {
			case <-both:
			case <-time.After(2 * time.Second):
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"id":"me-1"}`)
	}))

	m := auth.NewManager(auth.Config{
		ClientID:      "client-123",
		ClientSecret:  "secret",
		TenantID:      "tenant-1",
		AuthorityHost: idpSrv.URL,
	}, idpSrv.Client())
	sess := auth.NewSession("s1", auth.Credential{AccessToken: "at-1", RefreshToken: "rt-1"})
	a := m.For(sess)

	var wg sync.WaitGroup
	errs := make([]error, callers)
	ids := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = c.MyUserID(context.Background(), a)
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Errorf("caller %d: MyUserID() error = %v", i, errs[i])
		}
		if ids[i] != "me-1" {
			t.Errorf("caller %d: MyUserID() = %q, want me-1", i, ids[i])
		}
	}

	idp.mu.Lock()
	current := idp.current
	idp.mu.Unlock()

	got := sess.Credential()
	if got.AccessToken == "" || got.AccessToken == "at-1" {
		t.Errorf("access token = %q, want a refreshed token", got.AccessToken)
	}
	if got.RefreshToken != current {
		t.Errorf("refresh token = %q, want the provider's current %q", got.RefreshToken, current)
	}
}
