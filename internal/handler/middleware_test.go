package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler, mark("outer"), mark("middle"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "middle", "inner"}, order)
}

func TestRecover(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	Recover(logr.Discard())(panicky).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggerPreservesStatus(t *testing.T) {
	teapot := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	Logger(logr.Discard())(teapot).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		method     string
		wantHeader string
		wantCode   int
	}{
		{"allowed origin", []string{"http://ui.local"}, "http://ui.local", http.MethodGet, "http://ui.local", http.StatusOK},
		{"wildcard", []string{"*"}, "http://any.local", http.MethodGet, "http://any.local", http.StatusOK},
		{"unknown origin", []string{"http://ui.local"}, "http://evil.local", http.MethodGet, "", http.StatusOK},
		{"no origins configured", nil, "http://ui.local", http.MethodGet, "", http.StatusOK},
		{"preflight", []string{"*"}, "http://ui.local", http.MethodOptions, "http://ui.local", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/activate", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()

			CORS(tt.origins)(okHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantHeader, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRequireToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	mw := RequireToken(string(hash), logr.Discard(), "/health")

	tests := []struct {
		name     string
		path     string
		auth     string
		wantCode int
	}{
		{"valid token", "/activate", "Bearer s3cret", http.StatusOK},
		{"wrong token", "/activate", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "/activate", "", http.StatusUnauthorized},
		{"wrong scheme", "/activate", "Basic s3cret", http.StatusUnauthorized},
		{"exempt path", "/health", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()

			mw(okHandler).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRequireTokenDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireToken("", logr.Discard())(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/activate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
