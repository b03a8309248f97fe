package middleware

import (
	"context"
	"net/http"
	"strings"
)

const HeaderUserID = "X-User-Id"

// User is an authenticated customer. Identity is issued upstream (the API
// gateway); this service only reads the forwarded user id.
type User struct {
	ID string
}

// Auth stores the forwarded user, if any, in the request context. Requests
// without the header are guests.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if uid == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), User{ID: uid})))
	})
}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxUser, u)
}

// CurrentUser returns the authenticated user, or false for a guest.
func CurrentUser(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxUser).(User)
	if !ok || u.ID == "" {
		return User{}, false
	}
	return u, true
}
