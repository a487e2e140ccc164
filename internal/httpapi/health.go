package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) bool

// Health reports each named check and answers 503 when any of them fails.
func Health(checks map[string]Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{}
		healthy := true
		for name, check := range checks {
			ok := check(c.Request.Context())
			body[name] = ok
			healthy = healthy && ok
		}
		status := http.StatusOK
		body["status"] = "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	}
}
