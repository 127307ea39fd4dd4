package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/AaronLay10/napt-router/internal/config"
)

// authConfig holds the admin credentials.
type authConfig struct {
	user    string
	pass    string
	enabled bool
}

var auth *authConfig

// InitAuth enables basic auth when both admin secrets are set. Without them
// the API is open, which suits a bench setup on the AP subnet.
func InitAuth(s config.Secrets) {
	auth = &authConfig{
		user:    s.AdminUser,
		pass:    s.AdminPass,
		enabled: s.AdminUser != "" && s.AdminPass != "",
	}
}

// IsAuthEnabled returns true if authentication is configured.
func IsAuthEnabled() bool {
	return auth != nil && auth.enabled
}

func authenticate(r *http.Request) bool {
	if !IsAuthEnabled() {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	// Both comparisons always run.
	userOK := secureCompare(user, auth.user)
	passOK := secureCompare(pass, auth.pass)
	return userOK && passOK
}

// secureCompare performs constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="napt-router"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireAuth wraps a handler with the admin credential check.
func RequireAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authenticate(r) {
			requireAuth(w)
			return
		}
		handler(w, r)
	}
}
