package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/pylearner/internal/metrics"
)

func TestRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), requestIDKey, "abc")
	if got := RequestID(ctx); got != "abc" {
		t.Errorf("RequestID() = %q, want abc", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID() = %q, want empty", got)
	}
	ctx = context.WithValue(context.Background(), requestIDKey, 12345)
	if got := RequestID(ctx); got != "" {
		t.Errorf("RequestID() = %q, want empty for wrong type", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	if _, err := uuid.Parse(captured); err != nil {
		t.Errorf("generated id %q is not a UUID: %v", captured, err)
	}
	if rec.Header().Get(RequestIDHeader) != captured {
		t.Errorf("response header %q != %q", rec.Header().Get(RequestIDHeader), captured)
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "existing-id")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if captured != "existing-id" {
		t.Errorf("propagated id = %q, want existing-id", captured)
	}
}

func TestLogRequests_PassesStatusThrough(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusCreated, http.StatusNotFound, http.StatusInternalServerError} {
		handler := logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			w.Write([]byte("body"))
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
		if rec.Code != code || rec.Body.String() != "body" {
			t.Errorf("code = %d body = %q, want %d body", rec.Code, rec.Body.String(), code)
		}
	}
}

func TestRecoverPanics(t *testing.T) {
	handler := requestIDMiddleware(recoverPanics(logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("simulated panic")
	}))))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["error"] != "internal server error" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestRecordReusesWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := record(rec)
	if record(rw) != rw {
		t.Error("record should not double-wrap")
	}
	rw.WriteHeader(http.StatusCreated)
	if rw.status != http.StatusCreated || rec.Code != http.StatusCreated {
		t.Errorf("status = %d, recorder = %d", rw.status, rec.Code)
	}
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("recorder cannot be hijacked")
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	m := metrics.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/topics/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := metricsMiddleware(m)(mux)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/topics/variables", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`route="GET /v1/topics/{id}",status="418"`,
		`route="unmatched",status="404"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware([]string{"http://localhost:5173"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/v1/topics", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allowed origin header = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/topics", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(60, 2)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst should be allowed")
	}
	if l.Allow("a") {
		t.Error("third request should be limited")
	}
	if !l.Allow("b") {
		t.Error("clients have separate buckets")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Error("token should refill after a second")
	}

	now = now.Add(time.Hour)
	l.Allow("c")
	if _, ok := l.limiters["a"]; ok {
		t.Error("idle visitors should be forgotten")
	}
}

func TestIPLimiterMiddleware(t *testing.T) {
	l := newIPLimiter(60, 1)
	handler := l.Middleware(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/signin", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("status = %d, Retry-After = %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, "9.9.9.9:1", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "3.3.3.3"}, "9.9.9.9:1", "3.3.3.3"},
		{"peer without port", nil, "9.9.9.9:1234", "9.9.9.9"},
		{"peer unparsable", nil, "pipe", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
