package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"oguogu/crypto"
)

type contextKey string

const callerKey contextKey = "caller"

// AuthenticateBySignature authenticates requests carrying a bearer token
// of the form "message:signature". The recovered signer address becomes
// the caller identity; possession of the key is the credential.
func AuthenticateBySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			unauthorized(w)
			return
		}
		message, signature, ok := strings.Cut(token, ":")
		if !ok {
			unauthorized(w)
			return
		}
		caller, err := crypto.RecoverAddress(message, []byte(signature))
		if err != nil {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

// CallerFromContext returns the authenticated caller address.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey).(common.Address)
	return caller, ok
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "invalid credentials", http.StatusUnauthorized)
}
