package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "campusattend-test"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("user-1", RoleTeacher, testIssuer, testKey, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != RoleTeacher {
		t.Fatalf("unexpected claims %+v", claims)
	}

	refresh, err := ParseRefresh(pair.RefreshToken, testKey, testIssuer)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if refresh.ID != pair.RefreshTokenID {
		t.Fatalf("expected refresh id %s, got %s", pair.RefreshTokenID, refresh.ID)
	}
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	pair, err := Issue("user-1", RoleStudent, testIssuer, testKey, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.RefreshToken, testKey, testIssuer); err == nil {
		t.Fatalf("refresh token accepted as access token")
	}
	if _, err := ParseRefresh(pair.AccessToken, testKey, testIssuer); err == nil {
		t.Fatalf("access token accepted as refresh token")
	}
}

func TestParseRejectsWrongKeyIssuerAndExpiry(t *testing.T) {
	pair, _ := Issue("user-1", RoleAdmin, testIssuer, testKey, time.Minute, time.Hour)
	if _, err := Parse(pair.AccessToken, "other-key", testIssuer); err == nil {
		t.Fatalf("expected signature failure")
	}
	if _, err := Parse(pair.AccessToken, testKey, "someone-else"); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
	expired, _ := Issue("user-1", RoleAdmin, testIssuer, testKey, -time.Minute, time.Hour)
	if _, err := Parse(expired.AccessToken, testKey, testIssuer); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "s3cret") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected mismatch")
	}
}

func TestMiddlewareRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", Bearer(testKey, testIssuer), RequireRole(RoleAdmin), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	admin, _ := Issue("admin-1", RoleAdmin, testIssuer, testKey, time.Minute, time.Hour)
	student, _ := Issue("student-1", RoleStudent, testIssuer, testKey, time.Minute, time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + student.AccessToken, http.StatusForbidden},
		{"admin", "Bearer " + admin.AccessToken, http.StatusOK},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}
