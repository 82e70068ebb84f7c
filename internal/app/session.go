package app

import (
	"context"
	"errors"
	"net/http"

	"alqefari/api/internal/auth"
	"alqefari/api/internal/authpw"
	"alqefari/api/internal/rbac"
	"alqefari/api/internal/search"
)

// Session is what a successful sign-in hands back to the client.
type Session struct {
	Token     string `json:"token"`
	ProfileID string `json:"profileId"`
	Name      string `json:"name"`
	Role      string `json:"role"`
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	account, err := s.accounts.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, accountError(err)
	}
	return s.issueSession(ctx, account.ProfileID)
}

// SignUp links a password account to an existing, active profile.
func (s *Service) SignUp(ctx context.Context, email, password, profileID string) (Session, error) {
	if _, err := s.GetProfile(ctx, profileID); err != nil {
		return Session{}, err
	}
	account, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, ProfileID: profileID})
	if err != nil {
		return Session{}, accountError(err)
	}
	return s.issueSession(ctx, account.ProfileID)
}

func (s *Service) issueSession(ctx context.Context, profileID string) (Session, error) {
	p, err := s.GetProfile(ctx, profileID)
	if err != nil {
		return Session{}, err
	}
	role := string(rbac.Normalize(p.Role))
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), p.ID, p.Name, role, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ProfileID: p.ID, Name: p.Name, Role: role}, nil
}

// ParseToken validates a bearer token issued by SignIn or SignUp.
func (s *Service) ParseToken(token string) (auth.Claims, error) {
	return auth.ParseToken([]byte(s.cfg.JWTSecret), token)
}

func accountError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrInvalidInput):
		return domainError(http.StatusBadRequest, CodeInvalidInput, err.Error(), nil)
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusConflict, CodeConflict, "email already registered", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, CodeUnauthenticated, "invalid email or password", nil)
	default:
		return err
	}
}

func (s *Service) SearchByNameChain(ctx context.Context, q search.Query) (search.Response, error) {
	return s.search.Search(ctx, q)
}

func (s *Service) SuggestNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	return s.search.SuggestNames(ctx, prefix, limit)
}

// ReindexSearch pushes every tree member to the search backend.
func (s *Service) ReindexSearch(ctx context.Context) (int, error) {
	s.index.Invalidate()
	return s.search.ReindexAll(ctx)
}
