package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"campusattend/internal/attendance"
	"campusattend/internal/directory"
	"campusattend/internal/queue"
	"campusattend/internal/settings"
)

func (h *Handler) getSettings(c *gin.Context) {
	v, err := h.Settings.Get(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) updateSettings(c *gin.Context) {
	var v settings.Values
	if err := c.ShouldBindJSON(&v); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Settings.Update(c.Request.Context(), v); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) createUser(c *gin.Context) {
	var req directory.NewUser
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.Directory.CreateUser(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.Directory.ListUsers(c.Request.Context(), c.Query("role"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *Handler) assignSemester(c *gin.Context) {
	var req struct {
		Semester int    `json:"semester" binding:"required"`
		ClassID  string `json:"class_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Directory.AssignSemester(c.Request.Context(), c.Param("id"), req.Semester, req.ClassID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) createSubject(c *gin.Context) {
	var req directory.NewSubject
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sub, err := h.Directory.CreateSubject(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *Handler) listSubjects(c *gin.Context) {
	subjects, err := h.Directory.ListSubjects(c.Request.Context(), c.Query("teacher_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}

func (h *Handler) addHoliday(c *gin.Context) {
	var req struct {
		Date        string `json:"date" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	hol, err := h.Directory.AddHoliday(c.Request.Context(), req.Date, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hol)
}

func (h *Handler) listHolidays(c *gin.Context) {
	hols, err := h.Directory.ListHolidays(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holidays": hols})
}

func (h *Handler) deleteHoliday(c *gin.Context) {
	if err := h.Directory.DeleteHoliday(c.Request.Context(), c.Param("date")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listRequests(c *gin.Context) {
	limit, offset := page(c)
	status := c.DefaultQuery("status", string(attendance.RequestPending))
	if status == "all" {
		status = ""
	}
	reqs, err := h.Attendance.ListRequests(c.Request.Context(), attendance.RequestFilter{
		StudentID: c.Query("student_id"),
		Status:    attendance.RequestStatus(status),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

func (h *Handler) approveRequest(c *gin.Context) { h.resolveRequest(c, true) }

func (h *Handler) rejectRequest(c *gin.Context) { h.resolveRequest(c, false) }

func (h *Handler) resolveRequest(c *gin.Context, approve bool) {
	r, err := h.Attendance.ResolveRequest(c.Request.Context(), c.Param("id"), caller(c).Subject, approve)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) deleteRequest(c *gin.Context) {
	if err := h.Attendance.DeleteRequest(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type studentSummaryView struct {
	attendance.StudentSummary
	Percentage float64 `json:"percentage"`
}

func (h *Handler) subjectReport(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	sums, err := h.Attendance.SubjectReport(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]studentSummaryView, 0, len(sums))
	for _, s := range sums {
		out = append(out, studentSummaryView{StudentSummary: s, Percentage: s.Percentage()})
	}
	c.JSON(http.StatusOK, gin.H{"subject_id": c.Param("id"), "students": out})
}

func (h *Handler) listAttendance(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	limit, offset := page(c)
	recs, err := h.Attendance.ListRecords(c.Request.Context(), attendance.RecordFilter{
		StudentID: c.Query("student_id"),
		SubjectID: c.Query("subject_id"),
		From:      from,
		To:        to,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recordViews(recs)})
}

// sweep queues an absence sweep, or runs it inline when no queue is wired.
func (h *Handler) sweep(c *gin.Context) {
	if h.Jobs != nil {
		body, _ := json.Marshal(gin.H{"requested_by": caller(c).Subject})
		if err := h.Jobs.Publish(c.Request.Context(), queue.Message{Type: queue.TypeSweep, Body: body}); err != nil {
			logrus.WithError(err).Error("queue publish failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not queue sweep"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
		return
	}
	res, err := h.Attendance.Sweep(c.Request.Context())
	if err != nil && res.Codes == 0 && res.Failed == 0 {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
