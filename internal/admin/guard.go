package admin

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Guard admits requests from trusted hosts, or carrying a valid HS256
// bearer token when a secret is configured.
type Guard struct {
	trusted map[string]bool
	secret  []byte
}

// NewGuard creates a guard. An empty secret disables token access.
func NewGuard(trustedHosts []string, secret string) *Guard {
	g := &Guard{trusted: make(map[string]bool, len(trustedHosts))}
	for _, h := range trustedHosts {
		g.trusted[h] = true
	}
	if secret != "" {
		g.secret = []byte(secret)
	}
	return g
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var errNoToken = errors.New("no bearer token")

func (g *Guard) checkToken(r *http.Request) error {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return errNoToken
	}
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return err
}

// Middleware rejects untrusted callers with 403, bad tokens with 401
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.trusted[remoteHost(r)] {
			next.ServeHTTP(w, r)
			return
		}
		if g.secret == nil {
			http.Error(w, "You should not do that!", http.StatusForbidden)
			return
		}
		switch err := g.checkToken(r); {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, errNoToken):
			http.Error(w, "You should not do that!", http.StatusForbidden)
		default:
			http.Error(w, "invalid token", http.StatusUnauthorized)
		}
	})
}
