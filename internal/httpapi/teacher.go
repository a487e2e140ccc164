package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"campusattend/internal/attendance"
)

func (h *Handler) issueCode(c *gin.Context) {
	var req struct {
		SubjectID string   `json:"subject_id" binding:"required"`
		ClassID   string   `json:"class_id"`
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	code, err := h.Attendance.IssueCode(c.Request.Context(), attendance.IssueInput{
		TeacherID: caller(c).Subject,
		SubjectID: req.SubjectID,
		ClassID:   req.ClassID,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, code)
}

func (h *Handler) activeCodes(c *gin.Context) {
	codes, err := h.Attendance.ActiveCodes(c.Request.Context(), caller(c).Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"codes": codes})
}

// codeQR renders the code value as a PNG for projection in class.
func (h *Handler) codeQR(c *gin.Context) {
	code, err := h.Attendance.GetCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if code.IssuerID != caller(c).Subject {
		c.JSON(http.StatusNotFound, gin.H{"error": attendance.ErrCodeNotFound.Error()})
		return
	}
	png, err := qrcode.Encode(code.Code, qrcode.Medium, 256)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) mySubjects(c *gin.Context) {
	subjects, err := h.Directory.ListSubjects(c.Request.Context(), caller(c).Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}
