package server

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

type basicAuth struct {
	user string
	hash []byte
}

// newBasicAuth keeps only the bcrypt hash of password.
func newBasicAuth(user, password string) *basicAuth {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		// only fails for passwords over 72 bytes; refuse everyone
		hash = nil
	}
	return &basicAuth{user: user, hash: hash}
}

func (a *basicAuth) verify(user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
	if a.hash == nil {
		return false
	}
	passOK := bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
	return userOK && passOK
}

func (a *basicAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || !a.verify(user, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="lakeagent", charset="UTF-8"`)
			writeError(r.Context(), w, http.StatusUnauthorized, "Unauthorized Access")
			return
		}
		next.ServeHTTP(w, r)
	})
}
