// Identity provider client for the backend's /auth/v1 endpoints.
//
// Password and refresh grants are JSON posts to /token with the grant type in the query string. Tokens are kept as
// [oauth2.Token] behind an [oauth2.ReuseTokenSource]; the access token is a JWT whose subject is the user id.

package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const authPath = "/auth/v1"

// accessClaims are the fields read from the provider's access token.
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// signUpResponse is either a bare user (confirmation pending) or a session with an embedded user.
type signUpResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	User         *authUser `json:"user"`
}

// tokenResponse is the body of a successful grant.
type tokenResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int64          `json:"expires_in"`
	ExpiresAt    int64          `json:"expires_at"`
	User         map[string]any `json:"user"`
}

func (r tokenResponse) token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}
	switch {
	case r.ExpiresAt > 0:
		tok.Expiry = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		tok.Expiry = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	if r.User != nil {
		tok = tok.WithExtra(map[string]any{"user": r.User})
	}
	return tok
}

// AuthService implements [IdentityProvider] over HTTP.
type AuthService struct {
	api *APIService

	mu    sync.Mutex
	token oauth2.TokenSource
}

// NewAuthService creates an identity client that binds user tokens to api.
func NewAuthService(api *APIService) *AuthService {
	return &AuthService{api: api}
}

// grant posts payload to the token endpoint. It always authenticates with the anon key, so a refresh never
// recurses into the bound token source.
func (s *AuthService) grant(ctx context.Context, grantType string, payload any) (*oauth2.Token, error) {
	req := APIRequest{
		Method:    http.MethodPost,
		Path:      authPath + "/token",
		Query:     url.Values{"grant_type": {grantType}},
		Anonymous: true,
	}

	var out tokenResponse
	if err := s.api.doJSON(ctx, req, payload, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s grant returned no access token", shared.ErrAPIRequest, grantType)
	}
	return out.token(), nil
}

// refreshSource exchanges the latest refresh token for a new token. Calls are serialized by the
// [oauth2.ReuseTokenSource] wrapping it.
type refreshSource struct {
	auth         *AuthService
	refreshToken string
}

func (r *refreshSource) Token() (*oauth2.Token, error) {
	if r.refreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	tok, err := r.auth.grant(context.Background(), "refresh_token", map[string]string{"refresh_token": r.refreshToken})
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = r.refreshToken
	}
	r.refreshToken = tok.RefreshToken
	return tok, nil
}

func (s *AuthService) bind(tok *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok == nil {
		s.token = nil
		s.api.SetTokenSource(nil)
		return
	}
	s.token = oauth2.ReuseTokenSource(tok, &refreshSource{auth: s, refreshToken: tok.RefreshToken})
	s.api.SetTokenSource(s.token)
}

// SignUp registers a new account with the user's name stored as metadata.
func (s *AuthService) SignUp(ctx context.Context, req SignUpRequest) (*Identity, error) {
	payload := map[string]any{
		"email":    req.Email,
		"password": req.Password,
	}
	if len(req.Metadata) > 0 {
		payload["data"] = req.Metadata
	}

	var out signUpResponse
	err := s.api.doJSON(ctx, APIRequest{Method: http.MethodPost, Path: authPath + "/signup", Anonymous: true}, payload, &out)
	if err != nil {
		return nil, fmt.Errorf("%w: sign up: %v", shared.ErrAuth, err)
	}

	identity := &Identity{UserID: out.ID, Email: out.Email}
	if out.User != nil {
		identity.UserID = out.User.ID
		identity.Email = out.User.Email
	}
	if identity.UserID == "" {
		return nil, fmt.Errorf("%w: sign up returned no user id", shared.ErrAuth)
	}

	if out.AccessToken != "" {
		identity.Token = &oauth2.Token{
			AccessToken:  out.AccessToken,
			RefreshToken: out.RefreshToken,
			TokenType:    out.TokenType,
		}
		if out.ExpiresIn > 0 {
			identity.Token.Expiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		}
	}

	return identity, nil
}

// SignIn performs the password grant and binds the resulting token.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	tok, err := s.grant(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidCredentials, err)
	}

	identity, err := identityFromToken(tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidCredentials, err)
	}

	s.bind(tok)
	return identity, nil
}

// SignOut revokes the bound session and unbinds it on success.
func (s *AuthService) SignOut(ctx context.Context) error {
	if s.api.TokenSource() == nil {
		return nil
	}

	err := s.api.doJSON(ctx, APIRequest{Method: http.MethodPost, Path: authPath + "/logout"}, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: sign out: %v", shared.ErrAuth, err)
	}

	s.bind(nil)
	return nil
}

// Resume binds token and asks the provider who it belongs to. A rejected token is unbound again.
func (s *AuthService) Resume(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	if token == nil || token.AccessToken == "" {
		return nil, shared.ErrNotAuthenticated
	}
	if !token.Valid() && token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %v", shared.ErrNotAuthenticated, shared.ErrNoRefreshToken)
	}

	s.bind(token)

	var user authUser
	if err := s.api.doJSON(ctx, APIRequest{Method: http.MethodGet, Path: authPath + "/user"}, nil, &user); err != nil {
		s.bind(nil)
		return nil, fmt.Errorf("%w: %v", shared.ErrNotAuthenticated, err)
	}

	current, err := s.CurrentToken()
	if err != nil {
		s.bind(nil)
		return nil, err
	}
	return &Identity{UserID: user.ID, Email: user.Email, Token: current}, nil
}

// CurrentToken returns the bound token, refreshing through the token endpoint when it has expired.
func (s *AuthService) CurrentToken() (*oauth2.Token, error) {
	s.mu.Lock()
	ts := s.token
	s.mu.Unlock()

	if ts == nil {
		return nil, shared.ErrNotAuthenticated
	}
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTokenExpired, err)
	}
	return tok, nil
}

// identityFromToken prefers the "user" object the provider returns alongside the token and falls back to the
// access token's claims. The signature is not verified here; the provider checks it on every request.
func identityFromToken(tok *oauth2.Token) (*Identity, error) {
	identity := &Identity{Token: tok}

	if u, ok := tok.Extra("user").(map[string]any); ok {
		identity.UserID, _ = u["id"].(string)
		identity.Email, _ = u["email"].(string)
	}

	claims := &accessClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims)
	if err == nil {
		if identity.UserID == "" {
			identity.UserID = claims.Subject
		}
		if identity.Email == "" {
			identity.Email = claims.Email
		}
		if tok.Expiry.IsZero() && claims.ExpiresAt != nil {
			tok.Expiry = claims.ExpiresAt.Time
		}
	}

	if identity.UserID == "" {
		if err != nil {
			return nil, fmt.Errorf("unreadable access token: %w", err)
		}
		return nil, fmt.Errorf("access token has no subject")
	}
	return identity, nil
}
