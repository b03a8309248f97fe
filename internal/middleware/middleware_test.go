package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationIDGeneratedAndPropagated(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderCorrelationID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "cid-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "cid-1", seen)
}

func TestAuthDistinguishesGuests(t *testing.T) {
	tests := map[string]struct {
		header   string
		wantUser bool
		wantID   string
	}{
		"guest":            {header: "", wantUser: false},
		"blank is a guest": {header: "   ", wantUser: false},
		"user":             {header: "user-42", wantUser: true, wantID: "user-42"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var (
				got User
				ok  bool
			)
			h := Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, ok = CurrentUser(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(HeaderUserID, tc.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tc.wantUser, ok)
			assert.Equal(t, tc.wantID, got.ID)
		})
	}
}
