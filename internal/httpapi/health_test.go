package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestHealth(t *testing.T) {
	up := func(ctx context.Context) bool { return true }
	down := func(ctx context.Context) bool { return false }

	tests := []struct {
		name       string
		checks     map[string]Check
		wantCode   int
		wantStatus string
	}{
		{"all up", map[string]Check{"db": up, "redis": up}, http.StatusOK, "ok"},
		{"redis down", map[string]Check{"db": up, "redis": down}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/healthz", Health(tc.checks))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tc.wantStatus {
				t.Fatalf("expected status %q, got %v", tc.wantStatus, body["status"])
			}
			if _, ok := body["redis"].(bool); !ok {
				t.Fatalf("expected per-check result in body, got %v", body)
			}
		})
	}
}
