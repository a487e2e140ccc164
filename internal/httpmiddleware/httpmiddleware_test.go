package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"campusattend/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTokenBucketRefills(t *testing.T) {
	l := NewSimpleTokenBucket(2, 60)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.allow("k") || !l.allow("k") {
		t.Fatalf("expected the first two requests to pass")
	}
	if l.allow("k") {
		t.Fatalf("expected third request to be limited")
	}
	if !l.allow("other") {
		t.Fatalf("expected other keys to have their own bucket")
	}
	now = now.Add(time.Second)
	if !l.allow("k") {
		t.Fatalf("expected a token after one second at 60/min")
	}
}

func TestTokenBucketKeysByUser(t *testing.T) {
	l := NewSimpleTokenBucket(1, 1)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if sub := c.GetHeader("X-Test-User"); sub != "" {
			c.Set("claims", auth.Claims{Subject: sub, Role: auth.RoleStudent})
		}
		c.Next()
	})
	r.Use(l.GinMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if got := do("alice"); got != http.StatusNoContent {
		t.Fatalf("expected alice to pass, got %d", got)
	}
	if got := do("alice"); got != http.StatusTooManyRequests {
		t.Fatalf("expected alice to be limited, got %d", got)
	}
	if got := do("bob"); got != http.StatusNoContent {
		t.Fatalf("expected bob to pass from the same IP, got %d", got)
	}
}

type fakeCounter struct {
	hits map[string]int64
	err  error
}

func (f *fakeCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.hits[key]++
	return f.hits[key], nil
}

func TestThrottle(t *testing.T) {
	counter := &fakeCounter{hits: map[string]int64{}}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("claims", auth.Claims{Subject: "student-1", Role: auth.RoleStudent})
		c.Next()
	})
	r.POST("/redeem", Throttle(counter, "redeem", 2, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/redeem", nil))
		codes = append(codes, w.Code)
		if i == 2 && w.Header().Get("Retry-After") != "60" {
			t.Fatalf("expected Retry-After header, got %q", w.Header().Get("Retry-After"))
		}
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("attempt %d: expected %d, got %d", i+1, want[i], codes[i])
		}
	}
	if counter.hits["redeem:student-1"] != 3 {
		t.Fatalf("expected key per student, got %v", counter.hits)
	}

	counter.err = errors.New("redis down")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/redeem", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected requests to pass when counter fails, got %d", w.Code)
	}
}

func TestLoggerPassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(Logger("/healthz"))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for path, want := range map[string]int{"/healthz": http.StatusOK, "/boom": http.StatusInternalServerError} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, w.Code)
		}
	}
}
