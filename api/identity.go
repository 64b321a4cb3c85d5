/*
identity.go - Caller identity from the external session provider

The session layer in front of this service resolves the member's session and
forwards the account ID and admin flag as headers. This middleware lifts them
into the request context; handlers that perform administrative operations
check the flag and refuse otherwise.
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const (
	ctxAccountID contextKey = "accountID"
	ctxIsAdmin   contextKey = "isAdmin"

	headerAccountID = "X-Account-ID"
	headerAdmin     = "X-Admin"
)

// Identity lifts the session provider's headers into the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = context.WithValue(ctx, ctxAccountID, r.Header.Get(headerAccountID))
		ctx = context.WithValue(ctx, ctxIsAdmin, r.Header.Get(headerAdmin) == "true")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerAccount(r *http.Request) string {
	id, _ := r.Context().Value(ctxAccountID).(string)
	return id
}

func isAdmin(r *http.Request) bool {
	admin, _ := r.Context().Value(ctxIsAdmin).(bool)
	return admin
}

// RequireAdmin guards administrative routes.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(r) {
			writeError(w, http.StatusForbidden, "Administrator access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSelfOrAdmin guards account-scoped routes: the caller must be the
// account in the URL, or an administrator.
func RequireSelfOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(r) && callerAccount(r) != chi.URLParam(r, "id") {
			writeError(w, http.StatusForbidden, "Not your account", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
