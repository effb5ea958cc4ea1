package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	go2fa "github.com/MrEthical07/go2fa"
)

// ErrMissingBearer is passed to the ErrorHandler when the request carries no
// usable Authorization header.
var ErrMissingBearer = errors.New("missing bearer token")

// ErrorHandler writes the rejection response for a failed guard.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by RequireBearer.
func PrincipalFromContext(ctx context.Context) (*go2fa.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*go2fa.Principal)
	return p, ok && p != nil
}

// RequireBearer authenticates the access token in the Authorization header
// and stores the resulting principal in the request context. A nil onError
// writes a plain-text 401, or 503 when the session backend is unavailable.
func RequireBearer(engine *go2fa.Engine, onError ErrorHandler) func(http.Handler) http.Handler {
	if onError == nil {
		onError = plainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				onError(w, r, go2fa.ErrUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				onError(w, r, ErrMissingBearer)
				return
			}

			p, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				onError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func plainError(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, go2fa.ErrUnavailable) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
