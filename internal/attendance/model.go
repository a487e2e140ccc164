package attendance

import "time"

// Status is the outcome stored on an attendance record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// RequestStatus tracks a retroactive attendance request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// SystemMarker is shown as the marker of records that have no teacher.
const SystemMarker = "System"

// DateLayout is the wire and storage format of attendance days.
const DateLayout = "2006-01-02"

// Code is a short-lived attendance code bound to the issuer's location.
type Code struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	IssuerID        string    `json:"issuer_id"`
	SubjectID       string    `json:"subject_id"`
	ClassID         string    `json:"class_id,omitempty"`
	OriginLat       float64   `json:"origin_lat"`
	OriginLon       float64   `json:"origin_lon"`
	RadiusMeters    float64   `json:"radius_meters"`
	Day             time.Time `json:"day"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	AbsenteesMarked bool      `json:"absentees_marked"`
}

// Expired reports whether the code window has closed at now. The boundary is exclusive.
func (c Code) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Redemption is a student's single use of a code.
type Redemption struct {
	CodeID    string    `json:"code_id"`
	StudentID string    `json:"student_id"`
	Used      bool      `json:"used"`
	UsedAt    time.Time `json:"used_at"`
}

// Record is one attendance mark. SubjectID is empty for whole-day records.
type Record struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	SubjectID string    `json:"subject_id,omitempty"`
	TeacherID *string   `json:"teacher_id,omitempty"`
	Status    Status    `json:"status"`
	Day       time.Time `json:"day"`
	MarkedAt  time.Time `json:"marked_at"`
}

// MarkedBy returns the teacher id or SystemMarker.
func (r Record) MarkedBy() string {
	if r.TeacherID == nil || *r.TeacherID == "" {
		return SystemMarker
	}
	return *r.TeacherID
}

// Request asks an administrator to mark a past day present.
type Request struct {
	ID          string        `json:"id"`
	StudentID   string        `json:"student_id"`
	SubjectID   string        `json:"subject_id,omitempty"`
	Day         time.Time     `json:"day"`
	Reason      string        `json:"reason"`
	Latitude    float64       `json:"latitude"`
	Longitude   float64       `json:"longitude"`
	EvidenceURL string        `json:"evidence_url,omitempty"`
	Status      RequestStatus `json:"status"`
	ResolvedBy  *string       `json:"resolved_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// StudentSummary aggregates one student's marks in a subject.
type StudentSummary struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Present   int    `json:"present"`
	Total     int    `json:"total"`
}

// Percentage of present marks, 0 when there are none.
func (s StudentSummary) Percentage() float64 {
	return percentage(s.Present, s.Total)
}

// SubjectSummary aggregates a student's marks per subject.
type SubjectSummary struct {
	SubjectID string `json:"subject_id"`
	Name      string `json:"name"`
	Present   int    `json:"present"`
	Total     int    `json:"total"`
}

// Percentage of present marks, 0 when there are none.
func (s SubjectSummary) Percentage() float64 {
	return percentage(s.Present, s.Total)
}

func percentage(present, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(present) * 100 / float64(total)
}

// RecordFilter narrows record listings. Zero values match everything.
type RecordFilter struct {
	StudentID string
	SubjectID string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// RequestFilter narrows request listings.
type RequestFilter struct {
	StudentID string
	Status    RequestStatus
	Limit     int
	Offset    int
}

// civilDay truncates t to its calendar date in loc, returned as UTC midnight.
func civilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
