package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aegislabs/aegis/pkg/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "text"})
}

func TestIdentityRequiresUserID(t *testing.T) {
	handler := Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without a user id")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestIdentityPopulatesContext(t *testing.T) {
	var gotUser, gotRole string
	handler := Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserID(r.Context())
		gotRole = Role(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	req.Header.Set(HeaderUserID, "  user-7 ")
	req.Header.Set(HeaderUserRole, "Admin")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if gotUser != "user-7" {
		t.Errorf("user id = %q, want user-7", gotUser)
	}
	if gotRole != "admin" {
		t.Errorf("role = %q, want admin", gotRole)
	}
}

func TestRequireAdmin(t *testing.T) {
	ran := false
	handler := Identity(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/guardrails/rules", nil)
	req.Header.Set(HeaderUserID, "user-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if ran {
		t.Error("handler ran for non-admin")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/guardrails/rules", nil)
	req.Header.Set(HeaderUserID, "user-1")
	req.Header.Set(HeaderUserRole, "admin")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || !ran {
		t.Fatalf("admin request: status = %d, ran = %v", rr.Code, ran)
	}
}

func TestMemoryStoreIncrement(t *testing.T) {
	store := &MemoryRateLimitStore{entries: make(map[string]*memoryEntry)}
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, err := store.Increment(ctx, "chat:1.2.3.4", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if count != want {
			t.Errorf("count = %d, want %d", count, want)
		}
	}

	// A different key counts independently.
	count, _ := store.Increment(ctx, "chat:5.6.7.8", time.Minute)
	if count != 1 {
		t.Errorf("second client count = %d, want 1", count)
	}
}

func TestMemoryStoreWindowExpiry(t *testing.T) {
	store := &MemoryRateLimitStore{entries: make(map[string]*memoryEntry)}
	ctx := context.Background()

	if _, err := store.Increment(ctx, "k", time.Nanosecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)

	count, err := store.Increment(ctx, "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count after expiry = %d, want 1", count)
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	store := &MemoryRateLimitStore{entries: make(map[string]*memoryEntry)}
	config := DefaultRateLimitConfig()
	config.Chat = Limit{Requests: 2, Window: time.Minute}
	limiter := NewRateLimiter(store, config, quietLogger())

	handler := limiter.Middleware("chat")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/rag", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		statuses = append(statuses, rr.Code)

		if i == 0 {
			if got := rr.Header().Get("X-RateLimit-Limit"); got != "2" {
				t.Errorf("X-RateLimit-Limit = %q, want 2", got)
			}
			if got := rr.Header().Get("X-RateLimit-Remaining"); got != "1" {
				t.Errorf("X-RateLimit-Remaining = %q, want 1", got)
			}
		}
		if i == 2 && rr.Header().Get("Retry-After") == "" {
			t.Error("429 response missing Retry-After")
		}
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, statuses[i], want[i])
		}
	}
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	store := &MemoryRateLimitStore{entries: make(map[string]*memoryEntry)}
	config := DefaultRateLimitConfig()
	config.Chat = Limit{Requests: 1, Window: time.Minute}
	limiter := NewRateLimiter(store, config, quietLogger())

	handler := limiter.Middleware("chat")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, addr := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/rag", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("client %d: status = %d, want 200", i, rr.Code)
		}
	}
}

type brokenStore struct{}

func (brokenStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, errors.New("store down")
}
func (brokenStore) IsHealthy() bool { return false }

func TestRateLimiterGracefulDegradation(t *testing.T) {
	config := DefaultRateLimitConfig()
	limiter := NewRateLimiter(brokenStore{}, config, quietLogger())

	handler := limiter.Middleware("chat")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/rag", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("degraded status = %d, want 200", rr.Code)
	}

	config.GracefulDegradation = false
	strict := NewRateLimiter(brokenStore{}, config, quietLogger())
	handler = strict.Middleware("chat")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/chat/rag", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("strict status = %d, want 503", rr.Code)
	}
}

func TestClientIDPrefersProxyHeaders(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		want   string
		remote string
	}{
		{
			name:   "x-forwarded-for single",
			setup:  func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.9") },
			want:   "203.0.113.9",
			remote: "10.0.0.1:9999",
		},
		{
			name:   "x-forwarded-for chain",
			setup:  func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2") },
			want:   "203.0.113.9",
			remote: "10.0.0.1:9999",
		},
		{
			name:   "x-real-ip",
			setup:  func(r *http.Request) { r.Header.Set("X-Real-IP", "198.51.100.4") },
			want:   "198.51.100.4",
			remote: "10.0.0.1:9999",
		},
		{
			name:   "remote addr fallback",
			setup:  func(r *http.Request) {},
			want:   "10.0.0.1",
			remote: "10.0.0.1:9999",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			tt.setup(req)
			if got := clientID(req); got != tt.want {
				t.Errorf("clientID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestLoggerCapturesStatus(t *testing.T) {
	handler := RequestLogger(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "short and stout")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rr.Code)
	}
	if rr.Body.String() != "short and stout" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestRecovererConvertsPanic(t *testing.T) {
	handler := Recoverer(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}
