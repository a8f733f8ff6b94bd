package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/artpar/modhost/core/apierr"
	"github.com/artpar/modhost/core/module"
	"github.com/rs/zerolog"
)

// APIKeyHeader carries an API key.
const APIKeyHeader = "X-API-Key"

// ErrorSender writes a normalized error response.
type ErrorSender interface {
	Send(w http.ResponseWriter, r *http.Request, err error)
}

// Authenticator resolves the user of a request.
type Authenticator struct {
	tokens *Tokens
	keys   *KeyStore
	errors ErrorSender
	logger zerolog.Logger
}

// NewAuthenticator creates an authenticator. keys may be nil.
func NewAuthenticator(tokens *Tokens, keys *KeyStore, errs ErrorSender, logger zerolog.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, keys: keys, errors: errs, logger: logger}
}

// Middleware attaches the authenticated user to the request context.
// Requests without credentials continue anonymously; invalid credentials
// are rejected as unauthorized.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.authenticate(r)
		if err != nil {
			a.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
			a.errors.Send(w, r, err)
			return
		}
		if user != nil {
			r = r.WithContext(module.WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*module.User, error) {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		if a.keys == nil {
			return nil, apierr.New("unauthorized", "API keys are not enabled")
		}
		user, ok := a.keys.Authenticate(key)
		if !ok {
			return nil, apierr.New("unauthorized", "Invalid API key")
		}
		return user, nil
	}

	authz := r.Header.Get("Authorization")
	if authz == "" {
		return nil, nil
	}
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || a.tokens == nil {
		return nil, apierr.New("unauthorized", "Unsupported authorization scheme")
	}
	user, err := a.tokens.Verify(strings.TrimSpace(token))
	if errors.Is(err, ErrTokenExpired) {
		return nil, apierr.New("unauthorized", "Token expired").WithCause(err)
	}
	if err != nil {
		return nil, apierr.New("unauthorized", "Invalid token").WithCause(err)
	}
	return user, nil
}
