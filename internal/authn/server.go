// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package authn

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"

	"github.com/jeranaias/tillguard/internal/auth"
	"github.com/jeranaias/tillguard/internal/rbac"
)

const (
	// DefaultTokenTTL is how long an issued token is valid.
	DefaultTokenTTL = 8 * time.Hour

	// DefaultRequestsPerMinute is the per-IP request budget.
	DefaultRequestsPerMinute = 30

	tokenIssuer = "tillguard"

	invalidCredentials = "Invalid credentials"
)

// ErrInvalidToken is returned for a token that fails verification or was revoked.
var ErrInvalidToken = errors.New("invalid token")

// UserLookup finds users for the server. *directory.Directory satisfies it.
type UserLookup interface {
	FindByPIN(pin string) (*rbac.User, bool)
	FindByUsername(username string) (*rbac.User, bool)
}

// Claims are the token claims.
type Claims struct {
	Role rbac.Role `json:"role"`
	jwt.RegisteredClaims
}

// Server is the reference credential service.
type Server struct {
	users  UserLookup
	secret []byte
	ttl    time.Duration
	rpm    int
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	revoked map[string]time.Time // token id -> expiry
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTokenTTL sets the token lifetime.
func WithTokenTTL(d time.Duration) ServerOption {
	return func(s *Server) {
		s.ttl = d
	}
}

// WithRequestsPerMinute sets the per-IP rate limit.
func WithRequestsPerMinute(n int) ServerOption {
	return func(s *Server) {
		s.rpm = n
	}
}

// WithServerClock overrides the time source used to issue and check tokens.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.now = now
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a credential service that signs tokens with secret.
func NewServer(users UserLookup, secret []byte, opts ...ServerOption) (*Server, error) {
	if users == nil {
		return nil, errors.New("user lookup cannot be nil")
	}
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	s := &Server{
		users:   users,
		secret:  append([]byte(nil), secret...),
		ttl:     DefaultTokenTTL,
		rpm:     DefaultRequestsPerMinute,
		now:     time.Now,
		logger:  zerolog.Nop(),
		revoked: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'",
	})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(secureMiddleware.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	r.Route("/auth", func(ar chi.Router) {
		ar.Use(httprate.Limit(s.rpm, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, map[string][]string{"errors": {"Too many requests"}})
			}),
		))
		ar.Post("/login", s.handleLogin)
		ar.Post("/logout", s.handleLogout)
	})
	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"errors": {"Malformed request"}})
		return
	}

	var (
		user *rbac.User
		ok   bool
	)
	switch {
	case creds.PIN != "":
		user, ok = s.users.FindByPIN(creds.PIN)
	case creds.Username != "":
		user, ok = s.users.FindByUsername(creds.Username)
		// The service treats the PIN as the account password.
		ok = ok && creds.Password != "" && creds.Password == user.PIN
	}
	if !ok || !user.Active {
		s.logger.Info().Str("remote", r.RemoteAddr).Msg("credential service rejected login")
		writeJSON(w, http.StatusUnauthorized, map[string][]string{"errors": {invalidCredentials}})
		return
	}

	token, err := s.issue(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to sign token")
		writeJSON(w, http.StatusInternalServerError, map[string][]string{"errors": {"Internal error"}})
		return
	}
	user.PIN = ""
	writeJSON(w, http.StatusOK, loginResponse{User: user, Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || raw == "" {
		writeJSON(w, http.StatusUnauthorized, map[string][]string{"errors": {"Missing token"}})
		return
	}
	claims, err := s.Verify(raw)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string][]string{"errors": {"Invalid token"}})
		return
	}
	s.revoke(claims)
	w.WriteHeader(http.StatusNoContent)
}

// issue signs a token for user.
func (s *Server) issue(user *rbac.User) (string, error) {
	now := s.now()
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses and checks a token, including revocation.
func (s *Server) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.revoked[claims.ID]; gone {
		return nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}
	return claims, nil
}

func (s *Server) revoke(claims *Claims) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, id)
		}
	}
	exp := now.Add(s.ttl)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	s.revoked[claims.ID] = exp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
