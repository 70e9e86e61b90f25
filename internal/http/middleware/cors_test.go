package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSOrigins(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"exact match", []string{"https://painel.sorriso.com.br"}, "https://painel.sorriso.com.br", "https://painel.sorriso.com.br"},
		{"trailing slash in config", []string{"https://painel.sorriso.com.br/"}, "https://painel.sorriso.com.br", "https://painel.sorriso.com.br"},
		{"unknown origin", []string{"https://painel.sorriso.com.br"}, "https://evil.example", ""},
		{"any origin", []string{"*"}, "https://random.example", "https://random.example"},
		{"wildcard subdomain", []string{"https://*.sorriso.com.br"}, "https://centro.sorriso.com.br", "https://centro.sorriso.com.br"},
		{"wildcard needs a label", []string{"https://*.sorriso.com.br"}, "https://.sorriso.com.br", ""},
		{"wildcard checks scheme", []string{"https://*.sorriso.com.br"}, "http://centro.sorriso.com.br", ""},
		{"wildcard checks suffix", []string{"https://*.sorriso.com.br"}, "https://sorriso.com.br.evil.io", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := CORS(tt.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/admin/channels", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.True(t, called)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.want != "" {
				assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
			}
		})
	}
}

func TestCORSHandlesPreflight(t *testing.T) {
	called := false
	h := CORS([]string{"https://painel.sorriso.com.br"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodOptions, "/admin/reschedules", nil)
	req.Header.Set("Origin", "https://painel.sorriso.com.br")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
