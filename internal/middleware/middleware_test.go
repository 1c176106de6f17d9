package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var teapot = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func TestRateLimiterPerIP(t *testing.T) {
	l := NewRateLimiter(1, 2)
	h := l.Middleware(teapot)

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/chat/unread/u1", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("10.0.0.1"); code != http.StatusTeapot {
			t.Fatalf("request %d: %d", i, code)
		}
	}
	if code := do("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded: %d", code)
	}
	if code := do("10.0.0.2"); code != http.StatusTeapot {
		t.Fatalf("other ip limited: %d", code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Now()
	l.now = func() time.Time { return now }
	l.Allow("a")

	now = now.Add(visitorIdle + time.Second)
	l.Cleanup()
	if len(l.visitors) != 0 {
		t.Errorf("idle visitor kept")
	}
}

func TestClientIPIgnoresForwardedForByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := NewRateLimiter(1, 1).clientIP(req); got != "198.51.100.4" {
		t.Errorf("clientIP = %q", got)
	}
}

func TestClientIPBehindTrustedProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := NewRateLimiter(1, 1, TrustForwardedFor()).clientIP(req); got != "203.0.113.7" {
		t.Errorf("clientIP = %q", got)
	}
}

func TestRateLimiterSpoofedForwardedForShareBucket(t *testing.T) {
	h := NewRateLimiter(1, 1).Middleware(teapot)
	codes := make([]int, 0, 2)
	for _, fwd := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest(http.MethodGet, "/chat/unread/u1", nil)
		req.RemoteAddr = "198.51.100.4:4000"
		req.Header.Set("X-Forwarded-For", fwd)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusTeapot || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS("https://app.example")(teapot)
	req := httptest.NewRequest(http.MethodOptions, "/chat/create", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("origin = %q", got)
	}
}

func TestStaticFilesHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	StaticFiles(teapot).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/a.png", nil))
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("nosniff = %q", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); !strings.Contains(got, "sandbox") {
		t.Errorf("csp = %q", got)
	}
}

func TestLoggingKeepsStatus(t *testing.T) {
	h := Logging(teapot)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}
