package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func serve(mw gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.GET("/v1/info", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(method, "/v1/info", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(HeadersMiddleware(false), http.MethodGet, "")

	for _, kv := range apiHeaders {
		if got := w.Header().Get(kv[0]); got != kv[1] {
			t.Errorf("%s = %q, want %q", kv[0], got, kv[1])
		}
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS sent in development: %q", got)
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'none'") {
		t.Errorf("Content-Security-Policy = %q, want default-src 'none'", csp)
	}
}

func TestHeadersMiddleware_HSTS(t *testing.T) {
	w := serve(HeadersMiddleware(true), http.MethodGet, "")

	if got := w.Header().Get("Strict-Transport-Security"); got != hstsValue {
		t.Errorf("Strict-Transport-Security = %q, want %q", got, hstsValue)
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		wantAllowed bool
		wantCreds   bool
	}{
		{"explicit origin", []string{"https://ops.acme.example"}, "https://ops.acme.example", true, true},
		{"trailing slash in config", []string{"https://ops.acme.example/"}, "https://ops.acme.example", true, true},
		{"wildcard", []string{"*"}, "https://anything.example", true, false},
		{"empty list is wildcard", nil, "https://anything.example", true, false},
		{"disallowed origin", []string{"https://ops.acme.example"}, "https://evil.example", false, false},
		{"no origin header", []string{"*"}, "", false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(CORSMiddleware(tc.origins), http.MethodGet, tc.origin)

			gotOrigin := w.Header().Get("Access-Control-Allow-Origin")
			if (gotOrigin != "") != tc.wantAllowed {
				t.Fatalf("Allow-Origin = %q, want allowed=%v", gotOrigin, tc.wantAllowed)
			}
			if tc.wantAllowed && gotOrigin != tc.origin {
				t.Errorf("Allow-Origin = %q, want %q", gotOrigin, tc.origin)
			}
			gotCreds := w.Header().Get("Access-Control-Allow-Credentials") == "true"
			if gotCreds != tc.wantCreds {
				t.Errorf("Allow-Credentials = %v, want %v", gotCreds, tc.wantCreds)
			}
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	w := serve(CORSMiddleware([]string{"*"}), http.MethodOptions, "https://ops.acme.example")

	if w.Code != http.StatusNoContent {
		t.Errorf("Preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}

	allowed := w.Header().Get("Access-Control-Allow-Headers")
	for _, h := range []string{AdminHeader, "X-Correlation-ID", "X-Request-ID"} {
		if !strings.Contains(allowed, h) {
			t.Errorf("Access-Control-Allow-Headers = %q, missing %s", allowed, h)
		}
	}
}
