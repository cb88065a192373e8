package job

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/database"
)

func tokenServer(t *testing.T, refreshTokens *[]string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		*refreshTokens = append(*refreshTokens, r.PostForm.Get("refresh_token"))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-2",
			"refresh_token": "rotated",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDelegatedAuthPersistsRotation(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var seen []string
	srv := tokenServer(t, &seen)
	m := auth.NewManager(auth.Config{ClientID: "id", ClientSecret: "secret", AuthorityHost: srv.URL}, srv.Client())

	svc, err := NewDelegatedAuth(ctx, m, db, "seed")
	if err != nil {
		t.Fatal(err)
	}
	if !svc.Delegated() {
		t.Error("Delegated() = false")
	}

	h, ok := svc.Authorizer().AuthorizedHeaders(ctx)
	if !ok || h.Get("Authorization") != "Bearer access-2" {
		t.Fatalf("AuthorizedHeaders() = %v, %v", h, ok)
	}
	if len(seen) != 1 || seen[0] != "seed" {
		t.Errorf("refresh tokens sent = %v, want [seed]", seen)
	}

	if err := svc.Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	cred, ok, err := db.ServiceCredential(ctx, ServiceCredentialName)
	if err != nil || !ok {
		t.Fatalf("ServiceCredential() = %v, %v", ok, err)
	}
	if cred.RefreshToken != "rotated" {
		t.Errorf("stored refresh token = %q, want rotated", cred.RefreshToken)
	}

	// A restart prefers the stored, rotated token over the seed.
	again, err := NewDelegatedAuth(ctx, m, db, "seed")
	if err != nil {
		t.Fatal(err)
	}
	again.Authorizer().RefreshAccessToken(ctx, "access-2")
	if seen[len(seen)-1] != "rotated" {
		t.Errorf("refresh after restart used %q, want rotated", seen[len(seen)-1])
	}
}

func TestAppAuthPersistIsNoop(t *testing.T) {
	svc := NewAppAuth(auth.NewAppAuthorizer(auth.Config{ClientID: "id"}, nil))
	if svc.Delegated() {
		t.Error("Delegated() = true for app auth")
	}
	if err := svc.Persist(context.Background()); err != nil {
		t.Errorf("Persist() error = %v", err)
	}
}
