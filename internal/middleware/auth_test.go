package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubValidator map[string]string

func (v stubValidator) ValidateJWT(token string) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid")
}

func TestAuthMiddleware(t *testing.T) {
	validator := stubValidator{"good": "u1"}

	tests := []struct {
		name     string
		header   string
		optional bool
		wantCode int
		wantUser string
	}{
		{"missing header", "", false, http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic good", false, http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", false, http.StatusUnauthorized, ""},
		{"valid", "Bearer good", false, http.StatusOK, "u1"},
		{"optional missing", "", true, http.StatusOK, ""},
		{"optional bad token", "Bearer nope", true, http.StatusUnauthorized, ""},
		{"optional valid", "Bearer good", true, http.StatusOK, "u1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = GetUserID(r.Context())
			})

			mw := AuthMiddleware(validator)
			if tt.optional {
				mw = OptionalAuthMiddleware(validator)
			}

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			mw(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if gotUser != tt.wantUser {
				t.Fatalf("user = %q, want %q", gotUser, tt.wantUser)
			}
		})
	}
}
