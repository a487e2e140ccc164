// Package httpapi exposes the attendance services over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/directory"
	"campusattend/internal/evidence"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/queue"
	"campusattend/internal/settings"
)

// SettingsService reads and updates attendance settings.
type SettingsService interface {
	Get(ctx context.Context) (settings.Values, error)
	Update(ctx context.Context, v settings.Values) error
}

// Deps wires the handler to its services. Evidence, Jobs, Limiter and
// Throttle are optional.
type Deps struct {
	Attendance *attendance.Service
	Directory  *directory.Service
	Settings   SettingsService
	Evidence   evidence.Uploader
	Jobs       queue.Queue

	SigningKey string
	Issuer     string

	Limiter              *httpmiddleware.SimpleTokenBucket
	Throttle             httpmiddleware.Counter
	RedeemAttemptsPerMin int
}

// Handler serves the /v1 API.
type Handler struct {
	Deps
}

// New creates a handler.
func New(d Deps) *Handler {
	return &Handler{Deps: d}
}

// Register mounts every /v1 route on r.
func (h *Handler) Register(r gin.IRouter) {
	limit := func(c *gin.Context) { c.Next() }
	if h.Limiter != nil {
		limit = h.Limiter.GinMiddleware()
	}

	public := r.Group("/v1", limit)
	public.POST("/auth/login", h.login)
	public.POST("/auth/refresh", h.refresh)

	authed := r.Group("/v1", auth.Bearer(h.SigningKey, h.Issuer), limit)

	teacher := authed.Group("", auth.RequireRole(auth.RoleTeacher))
	teacher.POST("/codes", h.issueCode)
	teacher.GET("/codes/active", h.activeCodes)
	teacher.GET("/codes/:id/qr", h.codeQR)
	teacher.GET("/subjects", h.mySubjects)

	student := authed.Group("", auth.RequireRole(auth.RoleStudent))
	student.POST("/attendance/redeem",
		httpmiddleware.Throttle(h.Throttle, "redeem", h.RedeemAttemptsPerMin, time.Minute),
		h.redeem)
	student.POST("/requests", h.submitRequest)
	student.GET("/me/attendance", h.myAttendance)
	student.GET("/me/report", h.myReport)
	student.GET("/me/requests", h.myRequests)

	admin := authed.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/settings", h.getSettings)
	admin.PUT("/settings", h.updateSettings)
	admin.POST("/users", h.createUser)
	admin.GET("/users", h.listUsers)
	admin.PUT("/users/:id/semester", h.assignSemester)
	admin.POST("/subjects", h.createSubject)
	admin.GET("/subjects", h.listSubjects)
	admin.POST("/holidays", h.addHoliday)
	admin.GET("/holidays", h.listHolidays)
	admin.DELETE("/holidays/:date", h.deleteHoliday)
	admin.GET("/requests", h.listRequests)
	admin.POST("/requests/:id/approve", h.approveRequest)
	admin.POST("/requests/:id/reject", h.rejectRequest)
	admin.DELETE("/requests/:id", h.deleteRequest)
	admin.GET("/reports/subjects/:id", h.subjectReport)
	admin.GET("/attendance", h.listAttendance)
	admin.POST("/sweep", h.sweep)
}

func caller(c *gin.Context) auth.Claims {
	claims, _ := auth.ClaimsFrom(c)
	return claims
}

// respondError maps domain errors to status codes. Unknown errors are logged
// and reported without detail.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var (
		verr  *attendance.ValidationError
		dverr *directory.InvalidError
		sverr *settings.InvalidError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &dverr), errors.As(err, &sverr),
		errors.Is(err, directory.ErrNotTeacher), errors.Is(err, directory.ErrNotStudent):
		return http.StatusBadRequest
	case errors.Is(err, directory.ErrInvalidCredentials), errors.Is(err, directory.ErrTokenRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, attendance.ErrOutOfRange), errors.Is(err, attendance.ErrNotEnrolled),
		errors.Is(err, attendance.ErrNotSubjectTeacher):
		return http.StatusForbidden
	case errors.Is(err, attendance.ErrCodeNotFound), errors.Is(err, attendance.ErrSubjectNotFound),
		errors.Is(err, attendance.ErrRequestNotFound), errors.Is(err, directory.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrCodeExpired):
		return http.StatusGone
	case errors.Is(err, attendance.ErrAlreadyRedeemed), errors.Is(err, attendance.ErrRecordExists),
		errors.Is(err, attendance.ErrRequestExists), errors.Is(err, attendance.ErrRequestResolved),
		errors.Is(err, attendance.ErrRequestPending), errors.Is(err, directory.ErrEmailTaken),
		errors.Is(err, directory.ErrSubjectCodeTaken):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrHoliday):
		return http.StatusUnprocessableEntity
	case errors.Is(err, evidence.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// page reads limit and offset query parameters; the store clamps them.
func page(c *gin.Context) (limit, offset int) {
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// dateRange parses optional from/to query parameters.
func dateRange(c *gin.Context) (from, to time.Time, err error) {
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(attendance.DateLayout, v); err != nil {
			return from, to, errors.New("from must be YYYY-MM-DD")
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(attendance.DateLayout, v); err != nil {
			return from, to, errors.New("to must be YYYY-MM-DD")
		}
	}
	return from, to, nil
}

type recordView struct {
	attendance.Record
	Date     string `json:"date"`
	MarkedBy string `json:"marked_by"`
}

func recordViews(recs []attendance.Record) []recordView {
	out := make([]recordView, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordView{Record: r, Date: r.Day.Format(attendance.DateLayout), MarkedBy: r.MarkedBy()})
	}
	return out
}
