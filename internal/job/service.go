package job

import (
	"context"
	"time"

	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/logger"
)

// ServiceCredentialName keys the job's delegated credential in storage.
const ServiceCredentialName = "service"

// CredentialStorage persists the job's delegated credential.
type CredentialStorage interface {
	ServiceCredential(ctx context.Context, name string) (auth.Credential, bool, error)
	SaveServiceCredential(ctx context.Context, name string, cred auth.Credential) error
}

// ServiceAuth is the identity the scheduled job runs as: either a delegated
// credential refreshed through the Manager, or the application itself.
type ServiceAuth struct {
	authorizer auth.Authorizer
	session    *auth.Session
	storage    CredentialStorage
}

// NewDelegatedAuth restores the stored service credential, seeding it from
// refreshToken when nothing has been stored yet.
func NewDelegatedAuth(ctx context.Context, m *auth.Manager, storage CredentialStorage, refreshToken string) (*ServiceAuth, error) {
	cred, ok, err := storage.ServiceCredential(ctx, ServiceCredentialName)
	if err != nil {
		return nil, err
	}
	if !ok || cred.RefreshToken == "" {
		cred = auth.Credential{RefreshToken: refreshToken}
	}

	s := auth.RestoreSession(ServiceCredentialName, cred, "", time.Now())
	return &ServiceAuth{
		authorizer: m.For(s),
		session:    s,
		storage:    storage,
	}, nil
}

// NewAppAuth runs the job as the application.
func NewAppAuth(a *auth.AppAuthorizer) *ServiceAuth {
	return &ServiceAuth{authorizer: a}
}

func (s *ServiceAuth) Authorizer() auth.Authorizer {
	return s.authorizer
}

// Delegated reports whether the job acts on behalf of a user.
func (s *ServiceAuth) Delegated() bool {
	return s.session != nil
}

// Persist saves a refreshed or rotated delegated credential.
func (s *ServiceAuth) Persist(ctx context.Context) error {
	if s.session == nil || !s.session.Dirty() {
		return nil
	}
	cred := s.session.Credential()
	if cred.RefreshToken == "" {
		logger.Warn("service credential was cleared; a new refresh token is required")
	}
	if err := s.storage.SaveServiceCredential(ctx, ServiceCredentialName, cred); err != nil {
		return err
	}
	s.session.MarkClean()
	return nil
}
