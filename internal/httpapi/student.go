package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"campusattend/internal/attendance"
	"campusattend/internal/evidence"
)

const maxEvidenceBytes = 5 << 20

func (h *Handler) redeem(c *gin.Context) {
	var req struct {
		Code      string   `json:"code" binding:"required"`
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.Attendance.Redeem(c.Request.Context(), attendance.RedeemInput{
		Code:      req.Code,
		StudentID: caller(c).Subject,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "attendance marked", "record": recordViews([]attendance.Record{rec})[0]})
}

type requestForm struct {
	SubjectID   string   `json:"subject_id" form:"subject_id"`
	Date        string   `json:"date" form:"date" binding:"required"`
	Reason      string   `json:"reason" form:"reason" binding:"required"`
	Latitude    *float64 `json:"latitude" form:"latitude" binding:"required"`
	Longitude   *float64 `json:"longitude" form:"longitude" binding:"required"`
	EvidenceURL string   `json:"evidence_url" form:"-"`
}

// submitRequest accepts JSON, or a multipart form with an optional "photo"
// file that is uploaded as evidence.
func (h *Handler) submitRequest(c *gin.Context) {
	var req requestForm
	multipart := strings.HasPrefix(c.ContentType(), "multipart/form-data")
	var err error
	if multipart {
		err = c.ShouldBind(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		badRequest(c, err)
		return
	}

	input := attendance.RequestInput{
		StudentID:   caller(c).Subject,
		SubjectID:   req.SubjectID,
		Day:         req.Date,
		Reason:      req.Reason,
		Latitude:    *req.Latitude,
		Longitude:   *req.Longitude,
		EvidenceURL: req.EvidenceURL,
	}
	if multipart {
		// Reject bad requests before paying for an upload.
		if err := h.Attendance.ValidateRequest(c.Request.Context(), input); err != nil {
			respondError(c, err)
			return
		}
		url, err := h.uploadEvidence(c)
		if err != nil {
			respondError(c, err)
			return
		}
		input.EvidenceURL = url
	}

	r, err := h.Attendance.SubmitRequest(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// uploadEvidence stores the "photo" form file, returning "" when none was sent.
func (h *Handler) uploadEvidence(c *gin.Context) (string, error) {
	file, header, err := c.Request.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", &attendance.ValidationError{Field: "photo", Message: err.Error()}
	}
	defer file.Close()
	if header.Size > maxEvidenceBytes {
		return "", &attendance.ValidationError{Field: "photo", Message: "must be at most " + strconv.Itoa(maxEvidenceBytes>>20) + "MB"}
	}
	if h.Evidence == nil {
		return "", evidence.ErrNotConfigured
	}
	data, err := io.ReadAll(io.LimitReader(file, maxEvidenceBytes))
	if err != nil {
		return "", err
	}
	return h.Evidence.Upload(c.Request.Context(), data, header.Filename)
}

func (h *Handler) myAttendance(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	limit, offset := page(c)
	recs, err := h.Attendance.ListRecords(c.Request.Context(), attendance.RecordFilter{
		StudentID: caller(c).Subject,
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

type subjectSummaryView struct {
	attendance.SubjectSummary
	Percentage float64 `json:"percentage"`
}

func (h *Handler) myReport(c *gin.Context) {
	sums, err := h.Attendance.StudentReport(c.Request.Context(), caller(c).Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]subjectSummaryView, 0, len(sums))
	for _, s := range sums {
		out = append(out, subjectSummaryView{SubjectSummary: s, Percentage: s.Percentage()})
	}
	c.JSON(http.StatusOK, gin.H{"subjects": out})
}

func (h *Handler) myRequests(c *gin.Context) {
	limit, offset := page(c)
	reqs, err := h.Attendance.ListRequests(c.Request.Context(), attendance.RequestFilter{
		StudentID: caller(c).Subject,
		Status:    attendance.RequestStatus(c.Query("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}
