package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/tenant-service/tenant-service/internal/auth"
	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/internal/config"
	"github.com/tenant-service/tenant-service/internal/services"
	"github.com/tenant-service/tenant-service/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// fakes for readiness tests
// ---------------------------------------------------------------------------

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeArchiveChecker struct{ err error }

func (f fakeArchiveChecker) Check(context.Context) error { return f.err }

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return body
}

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func newHealthDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

func TestHealthCheckHandler_Healthy(t *testing.T) {
	db := newHealthDB(t, true)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["database"] != "connected" {
		t.Errorf("database = %v, want connected", body["database"])
	}
}

func TestHealthCheckHandler_Unhealthy(t *testing.T) {
	db := newHealthDB(t, false)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
	if body["database"] != "disconnected" {
		t.Errorf("database = %v, want disconnected", body["database"])
	}
}

// ---------------------------------------------------------------------------
// readinessHandler
// ---------------------------------------------------------------------------

func TestReadinessHandler(t *testing.T) {
	down := errors.New("connection refused")
	tests := []struct {
		name      string
		stores    Pinger
		archive   ArchiveChecker
		wantCode  int
		wantCheck map[string]string
	}{
		{"stores only", fakePinger{}, nil, http.StatusOK, map[string]string{"stores": "healthy"}},
		{"stores and archive", fakePinger{}, fakeArchiveChecker{}, http.StatusOK,
			map[string]string{"stores": "healthy", "archive": "healthy"}},
		{"stores down", fakePinger{err: down}, fakeArchiveChecker{}, http.StatusServiceUnavailable,
			map[string]string{"stores": "unhealthy"}},
		{"archive down", fakePinger{}, fakeArchiveChecker{err: down}, http.StatusServiceUnavailable,
			map[string]string{"stores": "healthy", "archive": "unhealthy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/ready", readinessHandler(tt.stores, tt.archive))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			body := decodeBody(t, w)
			if body["ready"] != (tt.wantCode == http.StatusOK) {
				t.Errorf("ready = %v", body["ready"])
			}
			checks, _ := body["checks"].(map[string]interface{})
			if len(checks) != len(tt.wantCheck) {
				t.Errorf("checks = %v, want %v", checks, tt.wantCheck)
			}
			for k, v := range tt.wantCheck {
				if checks[k] != v {
					t.Errorf("checks[%s] = %v, want %s", k, checks[k], v)
				}
			}
			if tt.wantCode != http.StatusOK {
				if msg, _ := body["error"].(string); msg == "" || bytes.Contains([]byte(msg), []byte("refused")) {
					t.Errorf("error = %q, want a generic message", msg)
				}
			}
		})
	}
}

// ---------------------------------------------------------------------------
// rootHandler / versionHandler
// ---------------------------------------------------------------------------

func TestRootHandler(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telemetry.ServiceName = "tenant-service"

	r := gin.New()
	r.GET("/", rootHandler(cfg))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["service"] != "tenant-service" {
		t.Errorf("service = %v, want tenant-service", body["service"])
	}
	if body["version"] != Version {
		t.Errorf("version = %v, want %s", body["version"], Version)
	}
}

func TestVersionHandler(t *testing.T) {
	r := gin.New()
	r.GET("/version", versionHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["version"] == nil {
		t.Error("response missing 'version'")
	}
	if body["api_version"] != "v1" {
		t.Errorf("api_version = %v, want v1", body["api_version"])
	}
}

// ---------------------------------------------------------------------------
// LoggerMiddleware
// ---------------------------------------------------------------------------

func TestLoggerMiddleware_PassesThrough(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError} {
		r := gin.New()
		r.Use(LoggerMiddleware())
		r.GET("/", func(c *gin.Context) { c.Status(status) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if w.Code != status {
			t.Errorf("status = %d, want %d", w.Code, status)
		}
	}
}

// ---------------------------------------------------------------------------
// CORSMiddleware
// ---------------------------------------------------------------------------

func corsRequest(cfg *config.Config, method, origin string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.OPTIONS("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "/", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"https://example.com"}

	w := corsRequest(cfg, http.MethodGet, "https://example.com")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want https://example.com", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
}

func TestCORSMiddleware_WildcardNeverSendsCredentials(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}

	w := corsRequest(cfg, http.MethodGet, "https://anything.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want unset", got)
	}
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"https://allowed.com"}

	w := corsRequest(cfg, http.MethodGet, "https://evil.com")

	// Request passes through but no CORS header set
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("expected no Access-Control-Allow-Origin header for disallowed origin")
	}
}

func TestCORSMiddleware_ConfiguredMethods(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	cfg.Security.CORS.AllowedMethods = []string{"GET", "POST"}

	w := corsRequest(cfg, http.MethodGet, "https://example.com")

	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
		t.Errorf("Access-Control-Allow-Methods = %q, want GET, POST", got)
	}
}

func TestCORSMiddleware_PreflightOptions(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}

	w := corsRequest(cfg, http.MethodOptions, "https://example.com")

	// OPTIONS should be aborted with 204
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 for OPTIONS preflight", w.Code)
	}
}

// ---------------------------------------------------------------------------
// NewRouter
// ---------------------------------------------------------------------------

func newTestRouter(t *testing.T, rateLimited bool) *gin.Engine {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.ExpectPing()

	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := auth.NewTokenService("0123456789abcdef0123456789abcdef", "test")
	if err != nil {
		t.Fatal(err)
	}
	manager := services.NewTenantManager(testutil.NewMemoryRegistry(), collections.NewMemoryStore(), hasher, tokens, time.Hour)

	cfg := &config.Config{}
	cfg.Telemetry.ServiceName = "tenant-service"
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	cfg.Security.RateLimiting.Enabled = rateLimited
	cfg.Security.RateLimiting.LoginRequestsPerMinute = 2

	router, bg := NewRouter(Dependencies{Config: cfg, DB: db, Tenants: manager})
	t.Cleanup(bg.Shutdown)
	return router
}

func serveJSON(r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewRouter_TenantLifecycle(t *testing.T) {
	r := newTestRouter(t, false)

	w := serveJSON(r, http.MethodPost, "/org/create", "", gin.H{
		"organization_name": "Acme Corp", "email": "admin@acme.com", "password": "secure123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("response missing security headers")
	}

	w = serveJSON(r, http.MethodPost, "/admin/login", "", gin.H{"email": "admin@acme.com", "password": "secure123"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	token, _ := decodeBody(t, w)["access_token"].(string)
	if token == "" {
		t.Fatal("login returned no access_token")
	}

	w = serveJSON(r, http.MethodPut, "/org/update", token, gin.H{
		"old_organization_name": "Acme Corp", "new_organization_name": "Acme Inc",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}

	w = serveJSON(r, http.MethodGet, "/org/get?organization_name=Acme+Inc", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["collection_name"]; got != "org_acme_inc" {
		t.Errorf("collection_name = %v, want org_acme_inc", got)
	}

	w = serveJSON(r, http.MethodDelete, "/org/delete", token, gin.H{"organization_name": "Acme Inc"})
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}

	w = serveJSON(r, http.MethodPost, "/org/get", "", gin.H{"organization_name": "Acme Inc"})
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestNewRouter_ProtectedRoutesRequireToken(t *testing.T) {
	r := newTestRouter(t, false)

	for _, route := range []struct{ method, path string }{
		{http.MethodPut, "/org/update"},
		{http.MethodDelete, "/org/delete"},
		{http.MethodPost, "/org/records"},
		{http.MethodGet, "/org/records"},
	} {
		w := serveJSON(r, route.method, route.path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", route.method, route.path, w.Code)
		}
		if w.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("%s %s missing WWW-Authenticate", route.method, route.path)
		}
	}
}

func TestNewRouter_LoginRateLimit(t *testing.T) {
	r := newTestRouter(t, true)

	creds := gin.H{"email": "nobody@acme.com", "password": "secure123"}
	for i := range 2 {
		w := serveJSON(r, http.MethodPost, "/admin/login", "", creds)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, w.Code)
		}
	}

	w := serveJSON(r, http.MethodPost, "/admin/login", "", creds)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 missing Retry-After")
	}

	// the general limit is separate from the login limit
	w = serveJSON(r, http.MethodGet, "/org/get?organization_name=Acme", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get status = %d, want 404", w.Code)
	}
}

func TestNewRouter_HealthEndpointsAreNotRateLimited(t *testing.T) {
	r := newTestRouter(t, true)

	for range 5 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatal("health endpoint carries rate limit headers")
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}
