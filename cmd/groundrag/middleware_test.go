package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/api/handlers"
	"github.com/BaSui01/groundrag/config"
	"github.com/BaSui01/groundrag/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.False(t, resp.Success)
	return resp.Error.Code
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := SecurityHeaders()(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	handler := Chain(okHandler(), SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(okHandler(), mark("outer"), mark("inner"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})
	handler := RequestID()(inner)

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Regexp(t, `^req-[0-9a-f-]{36}$`, w.Header().Get("X-Request-ID"))
		assert.Equal(t, w.Header().Get("X-Request-ID"), seen)
	})

	t.Run("client provided", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "trace-42")
		handler.ServeHTTP(w, r)
		assert.Equal(t, "trace-42", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "trace-42", seen)
	})
}

func TestRecovery(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := Chain(inner, RequestID(), Recovery(zap.NewNop()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/retrieve", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrInternalError), decodeErrorCode(t, w))
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{"k1", "k2"}, []string{"/health"}, true, zap.NewNop())(okHandler())

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"valid header", "/api/v1/retrieve", "k2", http.StatusOK},
		{"valid query", "/api/v1/retrieve?api_key=k1", "", http.StatusOK},
		{"missing", "/api/v1/retrieve", "", http.StatusUnauthorized},
		{"wrong", "/api/v1/retrieve", "nope", http.StatusUnauthorized},
		{"skip path", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("X-API-Key", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, string(types.ErrUnauthorized), decodeErrorCode(t, w))
			}
		})
	}
}

func TestAPIKeyAuth_QueryDisabled(t *testing.T) {
	handler := APIKeyAuth([]string{"k1"}, nil, false, zap.NewNop())(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/retrieve?api_key=k1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTAuth(t *testing.T) {
	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "groundrag-test"}

	var tenant, user string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, _ = types.TenantID(r.Context())
		user, _ = types.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTAuth(cfg, []string{"/ready"}, zap.NewNop())(inner)

	valid := signHS256(t, cfg.Secret, jwt.MapClaims{
		"iss":       "groundrag-test",
		"sub":       "alice",
		"tenant_id": "acme",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	expired := signHS256(t, cfg.Secret, jwt.MapClaims{
		"iss": "groundrag-test",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongIssuer := signHS256(t, cfg.Secret, jwt.MapClaims{
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	wrongKey := signHS256(t, "other", jwt.MapClaims{
		"iss": "groundrag-test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"valid", "/api/v1/retrieve", valid, http.StatusOK},
		{"missing", "/api/v1/retrieve", "", http.StatusUnauthorized},
		{"expired", "/api/v1/retrieve", expired, http.StatusUnauthorized},
		{"wrong issuer", "/api/v1/retrieve", wrongIssuer, http.StatusUnauthorized},
		{"wrong key", "/api/v1/retrieve", wrongKey, http.StatusUnauthorized},
		{"skip path", "/ready", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant, user = "", ""
			r := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.token != "" {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			}
		})
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/retrieve", nil)
	r.Header.Set("Authorization", "Bearer "+valid)
	handler.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "acme", tenant)
	assert.Equal(t, "alice", user)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 0.001, 2, ClientIPKey, zap.NewNop())(okHandler())

	send := func(addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/retrieve", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1001").Code)

	w := send("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, string(types.ErrRateLimited), decodeErrorCode(t, w))

	// 其他 IP 独立计数
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000").Code)
}

func TestTenantKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "ip:192.0.2.7", TenantKey(r))

	r = r.WithContext(types.WithTenantID(r.Context(), "acme"))
	assert.Equal(t, "tenant:acme", TenantKey(r))
}

func TestCORS(t *testing.T) {
	t.Run("no origins configured rejects preflight", func(t *testing.T) {
		handler := CORS(nil)(okHandler())
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/retrieve", nil)
		r.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allowed origin", func(t *testing.T) {
		handler := CORS([]string{"https://app.example"})(okHandler())
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/retrieve", nil)
		r.Header.Set("Origin", "https://app.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin gets no header", func(t *testing.T) {
		handler := CORS([]string{"https://app.example"})(okHandler())
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		r.Header.Set("Origin", "https://other.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

type httpRecord struct {
	method, path string
	status       int
	respSize     int64
}

type fakeHTTPRecorder struct {
	mu      sync.Mutex
	records []httpRecord
}

func (f *fakeHTTPRecorder) RecordHTTPRequest(method, path string, status int, _ time.Duration, _, responseSize int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, httpRecord{method, path, status, responseSize})
}

func TestMetricsMiddleware(t *testing.T) {
	rec := &fakeHTTPRecorder{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("hello"))
	})
	handler := MetricsMiddleware(rec)(inner)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/documents/12345", nil))

	require.Len(t, rec.records, 1)
	assert.Equal(t, httpRecord{http.MethodPost, "/api/v1/documents/:id", http.StatusAccepted, 5}, rec.records[0])
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/v1/retrieve", "/api/v1/retrieve"},
		{"/health", "/health"},
		{"/api/v1/documents/550e8400-e29b-41d4-a716-446655440000", "/api/v1/documents/:id"},
		{"/api/v1/documents/42", "/api/v1/documents/:id"},
		{"/api/v1/documents/intro", "/api/v1/documents/intro"},
		{"/wp-login.php", "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}

func TestOTelTracing_PassesThroughStatus(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	w := httptest.NewRecorder()
	OTelTracing()(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/retrieve", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
