package web

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/logger"
)

const sessionCookie = "taskpulse_session"

type sessionKey struct{}

func sessionFrom(ctx context.Context) *auth.Session {
	s, _ := ctx.Value(sessionKey{}).(*auth.Session)
	return s
}

// sessions loads the caller's session, starting a fresh one when the cookie
// is missing, unknown or expired. Changes are saved after the handler runs.
func (s *Server) sessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := s.loadSession(ctx, r)
		if sess == nil {
			sess = auth.NewSession(uuid.New().String(), auth.Credential{})
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sess.ID,
				Path:     "/",
				HttpOnly: true,
				Secure:   s.opts.SecureCookie,
				SameSite: http.SameSiteLaxMode,
			})
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionKey{}, sess)))

		if sess.Dirty() {
			if err := s.store.SaveSession(ctx, sess); err != nil {
				logger.Error("failed to save session", "error", err)
			}
		}
	})
}

func (s *Server) loadSession(ctx context.Context, r *http.Request) *auth.Session {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return nil
	}

	sess, err := s.store.GetSession(ctx, c.Value)
	if err != nil {
		logger.Error("failed to load session", "error", err)
		return nil
	}
	if sess == nil {
		return nil
	}

	if time.Since(sess.UpdatedAt) > s.opts.SessionTTL {
		if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
			logger.Warn("failed to delete expired session", "error", err)
		}
		return nil
	}
	if time.Since(sess.UpdatedAt) > time.Minute {
		if err := s.store.TouchSession(ctx, sess.ID); err != nil {
			logger.Warn("failed to touch session", "error", err)
		}
	}
	return sess
}
