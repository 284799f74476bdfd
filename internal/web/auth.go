package web

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// Auth guards the routes that move the dials. A zero Auth lets every
// request through.
type Auth struct {
	Username     string
	PasswordHash string // bcrypt hash; empty disables the check
}

// Enabled reports whether requests must carry credentials.
func (a Auth) Enabled() bool {
	return a.PasswordHash != ""
}

// Require wraps next with HTTP basic authentication.
func (a Auth) Require(next http.HandlerFunc) http.HandlerFunc {
	if !a.Enabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !a.check(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="FlipGo", charset="UTF-8"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (a Auth) check(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.Username)) == 1
	// Always run bcrypt so a wrong user name costs the same as a wrong password.
	passOK := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(pass)) == nil
	return userOK && passOK
}
