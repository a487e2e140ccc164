package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"campusattend/internal/geo"
	"campusattend/internal/metrics"
	"campusattend/internal/settings"
)

const issueAttempts = 5

// Store is the persistence boundary of the service. Multi-step writes are atomic.
type Store interface {
	SubjectOwner(ctx context.Context, subjectID string) (string, error)
	IsHoliday(ctx context.Context, day time.Time) (bool, error)

	CreateCode(ctx context.Context, c Code) error
	GetCode(ctx context.Context, id string) (Code, error)
	ActiveCodes(ctx context.Context, issuerID string, now time.Time) ([]Code, error)
	// RedeemCode loads the code by value, calls check with whether the student
	// already holds a present mark for it, and on a nil result records the
	// redemption and the present record in one transaction.
	RedeemCode(ctx context.Context, code, studentID string, now time.Time, check func(Code, bool) error) (Record, error)

	ExpiredCodes(ctx context.Context, now time.Time, limit int) ([]Code, error)
	// MarkAbsentees inserts absent records for eligible students lacking one and
	// flags the code as processed. Safe to repeat.
	MarkAbsentees(ctx context.Context, c Code, now time.Time) (int, error)

	HasRecord(ctx context.Context, studentID, subjectID string, day time.Time) (bool, error)
	HasPendingRequest(ctx context.Context, studentID, subjectID string, day time.Time) (bool, error)
	CreateRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id string) (Request, error)
	ResolveRequest(ctx context.Context, id string, status RequestStatus, adminID string, now time.Time) (Request, error)
	DeleteRequest(ctx context.Context, id string) error
	ListRequests(ctx context.Context, f RequestFilter) ([]Request, error)

	ListRecords(ctx context.Context, f RecordFilter) ([]Record, error)
	SubjectReport(ctx context.Context, subjectID string, from, to time.Time) ([]StudentSummary, error)
	StudentReport(ctx context.Context, studentID string) ([]SubjectSummary, error)
}

// SettingsSource supplies the administrator-configured radius and validity.
type SettingsSource interface {
	Get(ctx context.Context) (settings.Values, error)
}

// Options tunes a Service.
type Options struct {
	CodeLength int
	SweepBatch int
	Location   *time.Location
	Now        func() time.Time
}

// Service implements code issuance, redemption, the absence sweep and requests.
type Service struct {
	store      Store
	settings   SettingsSource
	codeLength int
	sweepBatch int
	loc        *time.Location
	now        func() time.Time
}

// NewService creates a service backed by a store.
func NewService(store Store, src SettingsSource, opts Options) *Service {
	s := &Service{
		store:      store,
		settings:   src,
		codeLength: opts.CodeLength,
		sweepBatch: opts.SweepBatch,
		loc:        opts.Location,
		now:        opts.Now,
	}
	if s.codeLength <= 0 {
		s.codeLength = 6
	}
	if s.sweepBatch <= 0 {
		s.sweepBatch = 50
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Today returns the current attendance day.
func (s *Service) Today() time.Time {
	return civilDay(s.now(), s.loc)
}

// IssueInput is a teacher's request for a new code.
type IssueInput struct {
	TeacherID string
	SubjectID string
	ClassID   string
	Latitude  float64
	Longitude float64
}

// IssueCode creates a new attendance code at the teacher's location.
func (s *Service) IssueCode(ctx context.Context, in IssueInput) (Code, error) {
	if in.TeacherID == "" {
		return Code{}, invalid("teacher_id", "required")
	}
	if in.SubjectID == "" {
		return Code{}, invalid("subject_id", "required")
	}
	if err := geo.ValidateCoordinates(in.Latitude, in.Longitude); err != nil {
		return Code{}, invalid("location", err.Error())
	}

	owner, err := s.store.SubjectOwner(ctx, in.SubjectID)
	if err != nil {
		return Code{}, err
	}
	if owner != "" && owner != in.TeacherID {
		return Code{}, ErrNotSubjectTeacher
	}

	now := s.now()
	day := civilDay(now, s.loc)
	holiday, err := s.store.IsHoliday(ctx, day)
	if err != nil {
		return Code{}, fmt.Errorf("holiday lookup: %w", err)
	}
	if holiday {
		return Code{}, ErrHoliday
	}

	vals, err := s.settings.Get(ctx)
	if err != nil {
		return Code{}, err
	}

	for attempt := 0; attempt < issueAttempts; attempt++ {
		value, err := GenerateCode(s.codeLength)
		if err != nil {
			return Code{}, err
		}
		c := Code{
			ID:           uuid.NewString(),
			Code:         value,
			IssuerID:     in.TeacherID,
			SubjectID:    in.SubjectID,
			ClassID:      in.ClassID,
			OriginLat:    in.Latitude,
			OriginLon:    in.Longitude,
			RadiusMeters: vals.DistanceThreshold,
			Day:          day,
			IssuedAt:     now,
			ExpiresAt:    now.Add(vals.Validity()),
		}
		err = s.store.CreateCode(ctx, c)
		if errors.Is(err, ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return Code{}, err
		}
		metrics.CodeIssued()
		logrus.WithFields(logrus.Fields{
			"code_id":    c.ID,
			"teacher_id": c.IssuerID,
			"subject_id": c.SubjectID,
			"radius_m":   c.RadiusMeters,
			"expires_at": c.ExpiresAt,
		}).Info("attendance code issued")
		return c, nil
	}
	return Code{}, fmt.Errorf("%w after %d attempts", ErrDuplicateCode, issueAttempts)
}

// ActiveCodes lists a teacher's codes that are still open.
func (s *Service) ActiveCodes(ctx context.Context, teacherID string) ([]Code, error) {
	return s.store.ActiveCodes(ctx, teacherID, s.now())
}

// GetCode returns a code by id.
func (s *Service) GetCode(ctx context.Context, id string) (Code, error) {
	return s.store.GetCode(ctx, id)
}

// RedeemInput is a student's code submission.
type RedeemInput struct {
	Code      string
	StudentID string
	Latitude  float64
	Longitude float64
}

// Redeem validates a submitted code and marks the student present. Either the
// redemption and the record are both written or nothing is.
func (s *Service) Redeem(ctx context.Context, in RedeemInput) (Record, error) {
	code := NormalizeCode(in.Code)
	if code == "" {
		return Record{}, invalid("code", "required")
	}
	if in.StudentID == "" {
		return Record{}, invalid("student_id", "required")
	}
	if err := geo.ValidateCoordinates(in.Latitude, in.Longitude); err != nil {
		return Record{}, invalid("location", err.Error())
	}

	now := s.now()
	rec, err := s.store.RedeemCode(ctx, code, in.StudentID, now, func(c Code, redeemed bool) error {
		return CheckRedemption(c, redeemed, in.Latitude, in.Longitude, now)
	})
	outcome := redemptionOutcome(err)
	metrics.Redemption(outcome)

	fields := logrus.Fields{"student_id": in.StudentID, "outcome": outcome}
	if err != nil {
		if outcome == "error" {
			logrus.WithFields(fields).WithError(err).Error("redemption failed")
		} else {
			logrus.WithFields(fields).Info("redemption rejected")
		}
		return Record{}, err
	}
	fields["subject_id"] = rec.SubjectID
	logrus.WithFields(fields).Info("attendance marked present")
	return rec, nil
}

func redemptionOutcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, ErrCodeExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrNotEnrolled):
		return "not_enrolled"
	case errors.As(err, &verr):
		return "invalid"
	default:
		return "error"
	}
}

// SweepResult summarises one sweep run.
type SweepResult struct {
	Codes     int `json:"codes"`
	Absentees int `json:"absentees"`
	Failed    int `json:"failed"`
}

// Sweep marks absentees for expired codes that have not been processed yet.
// A code that fails is left unprocessed and picked up by the next run.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer metrics.SweepFinished(start)

	now := s.now()
	codes, err := s.store.ExpiredCodes(ctx, now, s.sweepBatch)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expired codes: %w", err)
	}

	var res SweepResult
	var errs []error
	for _, c := range codes {
		n, err := s.store.MarkAbsentees(ctx, c, now)
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("code %s: %w", c.ID, err))
			logrus.WithError(err).WithField("code_id", c.ID).Warn("absence sweep failed for code")
			continue
		}
		res.Codes++
		res.Absentees += n
		metrics.AbsencesMarked(n)
	}
	if len(codes) > 0 {
		logrus.WithFields(logrus.Fields{
			"codes":     res.Codes,
			"absentees": res.Absentees,
			"failed":    res.Failed,
		}).Info("absence sweep finished")
	}
	return res, errors.Join(errs...)
}

// RequestInput is a student's retroactive attendance request.
type RequestInput struct {
	StudentID   string
	SubjectID   string
	Day         string
	Reason      string
	Latitude    float64
	Longitude   float64
	EvidenceURL string
}

// ValidateRequest runs every check SubmitRequest applies before writing, so
// callers can reject a request before doing expensive work such as uploads.
func (s *Service) ValidateRequest(ctx context.Context, in RequestInput) error {
	_, _, err := s.checkRequest(ctx, in)
	return err
}

// SubmitRequest records a pending request for a past day without a mark.
func (s *Service) SubmitRequest(ctx context.Context, in RequestInput) (Request, error) {
	day, reason, err := s.checkRequest(ctx, in)
	if err != nil {
		return Request{}, err
	}

	req := Request{
		ID:          uuid.NewString(),
		StudentID:   in.StudentID,
		SubjectID:   in.SubjectID,
		Day:         day,
		Reason:      reason,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		EvidenceURL: in.EvidenceURL,
		Status:      RequestPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return Request{}, err
	}
	logrus.WithFields(logrus.Fields{
		"request_id": req.ID,
		"student_id": req.StudentID,
		"day":        req.Day.Format(DateLayout),
	}).Info("attendance request submitted")
	return req, nil
}

// checkRequest validates a request and returns its parsed day and trimmed reason.
func (s *Service) checkRequest(ctx context.Context, in RequestInput) (time.Time, string, error) {
	if in.StudentID == "" {
		return time.Time{}, "", invalid("student_id", "required")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return time.Time{}, "", invalid("reason", "required")
	}
	day, err := time.Parse(DateLayout, in.Day)
	if err != nil {
		return time.Time{}, "", invalid("date", "expected YYYY-MM-DD")
	}
	if !day.Before(s.Today()) {
		return time.Time{}, "", invalid("date", "must be a past day")
	}
	if err := geo.ValidateCoordinates(in.Latitude, in.Longitude); err != nil {
		return time.Time{}, "", invalid("location", err.Error())
	}
	if in.SubjectID != "" {
		if _, err := s.store.SubjectOwner(ctx, in.SubjectID); err != nil {
			return time.Time{}, "", err
		}
	}

	holiday, err := s.store.IsHoliday(ctx, day)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("holiday lookup: %w", err)
	}
	if holiday {
		return time.Time{}, "", ErrHoliday
	}
	exists, err := s.store.HasRecord(ctx, in.StudentID, in.SubjectID, day)
	if err != nil {
		return time.Time{}, "", err
	}
	if exists {
		return time.Time{}, "", ErrRecordExists
	}
	pending, err := s.store.HasPendingRequest(ctx, in.StudentID, in.SubjectID, day)
	if err != nil {
		return time.Time{}, "", err
	}
	if pending {
		return time.Time{}, "", ErrRequestExists
	}
	return day, reason, nil
}

// ResolveRequest approves or rejects a pending request. Approval marks the
// student present for that day, attributed to the administrator.
func (s *Service) ResolveRequest(ctx context.Context, id, adminID string, approve bool) (Request, error) {
	if adminID == "" {
		return Request{}, invalid("admin_id", "required")
	}
	status := RequestRejected
	if approve {
		status = RequestApproved
	}
	req, err := s.store.ResolveRequest(ctx, id, status, adminID, s.now())
	if err != nil {
		return Request{}, err
	}
	metrics.RequestResolved(string(status))
	logrus.WithFields(logrus.Fields{
		"request_id": id,
		"admin_id":   adminID,
		"status":     status,
	}).Info("attendance request resolved")
	return req, nil
}

// DeleteRequest removes a resolved request.
func (s *Service) DeleteRequest(ctx context.Context, id string) error {
	return s.store.DeleteRequest(ctx, id)
}

// ListRequests returns requests matching f.
func (s *Service) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	return s.store.ListRequests(ctx, f)
}

// ListRecords returns records matching f.
func (s *Service) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	return s.store.ListRecords(ctx, f)
}

// SubjectReport aggregates marks per student for a subject in [from, to].
// Zero bounds are open.
func (s *Service) SubjectReport(ctx context.Context, subjectID string, from, to time.Time) ([]StudentSummary, error) {
	if subjectID == "" {
		return nil, invalid("subject_id", "required")
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, invalid("to", "must not be before from")
	}
	return s.store.SubjectReport(ctx, subjectID, from, to)
}

// StudentReport aggregates a student's marks per subject.
func (s *Service) StudentReport(ctx context.Context, studentID string) ([]SubjectSummary, error) {
	return s.store.StudentReport(ctx, studentID)
}
