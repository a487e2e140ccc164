// Package attendancetest provides an in-memory attendance.Store for tests.
package attendancetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"campusattend/internal/attendance"
)

type recordKey struct {
	student string
	subject string
	day     string
}

type subject struct {
	teacher  string
	semester int
	name     string
}

type student struct {
	name     string
	semester int
	class    string
}

// MemStore mirrors the Postgres repository's semantics in memory.
type MemStore struct {
	mu          sync.Mutex
	subjects    map[string]subject
	students    map[string]student
	holidays    map[string]bool
	codes       map[string]attendance.Code
	redemptions map[[2]string]attendance.Redemption
	records     map[recordKey]attendance.Record
	requests    map[string]attendance.Request

	// FailMarkAbsentees makes MarkAbsentees fail for the listed code ids.
	FailMarkAbsentees map[string]bool
}

// New returns an empty store.
func New() *MemStore {
	return &MemStore{
		subjects:          map[string]subject{},
		students:          map[string]student{},
		holidays:          map[string]bool{},
		codes:             map[string]attendance.Code{},
		redemptions:       map[[2]string]attendance.Redemption{},
		records:           map[recordKey]attendance.Record{},
		requests:          map[string]attendance.Request{},
		FailMarkAbsentees: map[string]bool{},
	}
}

// AddSubject registers a subject taught by teacherID in semester.
func (m *MemStore) AddSubject(id, name, teacherID string, semester int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[id] = subject{teacher: teacherID, semester: semester, name: name}
}

// AddStudent registers a student in a semester and class.
func (m *MemStore) AddStudent(id, name string, semester int, classID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[id] = student{name: name, semester: semester, class: classID}
}

// AddHoliday marks day as a holiday.
func (m *MemStore) AddHoliday(day time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays[day.Format(attendance.DateLayout)] = true
}

// PutRecord stores a record directly.
func (m *MemStore) PutRecord(rec attendance.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.records[keyOf(rec.StudentID, rec.SubjectID, rec.Day)] = rec
}

// Records returns a snapshot of every record.
func (m *MemStore) Records() []attendance.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attendance.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// Redemptions returns how many redemptions are stored.
func (m *MemStore) Redemptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redemptions)
}

// Code returns a stored code by id.
func (m *MemStore) Code(id string) (attendance.Code, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[id]
	return c, ok
}

func keyOf(studentID, subjectID string, day time.Time) recordKey {
	return recordKey{student: studentID, subject: subjectID, day: day.Format(attendance.DateLayout)}
}

func (m *MemStore) SubjectOwner(ctx context.Context, subjectID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[subjectID]
	if !ok {
		return "", attendance.ErrSubjectNotFound
	}
	return s.teacher, nil
}

func (m *MemStore) IsHoliday(ctx context.Context, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holidays[day.Format(attendance.DateLayout)], nil
}

func (m *MemStore) CreateCode(ctx context.Context, c attendance.Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.codes {
		if existing.Code == c.Code {
			return attendance.ErrDuplicateCode
		}
	}
	m.codes[c.ID] = c
	return nil
}

func (m *MemStore) GetCode(ctx context.Context, id string) (attendance.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[id]
	if !ok {
		return attendance.Code{}, attendance.ErrCodeNotFound
	}
	return c, nil
}

func (m *MemStore) ActiveCodes(ctx context.Context, issuerID string, now time.Time) ([]attendance.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []attendance.Code
	for _, c := range m.codes {
		if c.IssuerID == issuerID && !c.Expired(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (m *MemStore) RedeemCode(ctx context.Context, code, studentID string, now time.Time, check func(attendance.Code, bool) error) (attendance.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c attendance.Code
	found := false
	for _, existing := range m.codes {
		if existing.Code == code {
			c, found = existing, true
			break
		}
	}
	if !found {
		return attendance.Record{}, attendance.ErrCodeNotFound
	}

	slot := [2]string{c.ID, studentID}
	key := keyOf(studentID, c.SubjectID, c.Day)
	_, used := m.redemptions[slot]
	rec, hasRec := m.records[key]
	redeemed := used || (hasRec && rec.Status == attendance.StatusPresent)
	if err := check(c, redeemed); err != nil {
		return attendance.Record{}, err
	}
	st, isStudent := m.students[studentID]
	subj := m.subjects[c.SubjectID]
	if !isStudent || st.semester != subj.semester || (c.ClassID != "" && st.class != c.ClassID) {
		return attendance.Record{}, attendance.ErrNotEnrolled
	}

	m.redemptions[slot] = attendance.Redemption{CodeID: c.ID, StudentID: studentID, Used: true, UsedAt: now}
	teacher := c.IssuerID
	out := attendance.Record{
		ID:        uuid.NewString(),
		StudentID: studentID,
		SubjectID: c.SubjectID,
		TeacherID: &teacher,
		Status:    attendance.StatusPresent,
		Day:       c.Day,
		MarkedAt:  now,
	}
	if hasRec {
		out.ID = rec.ID
	}
	m.records[key] = out
	return out, nil
}

func (m *MemStore) ExpiredCodes(ctx context.Context, now time.Time, limit int) ([]attendance.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []attendance.Code
	for _, c := range m.codes {
		if !c.AbsenteesMarked && c.Expired(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) MarkAbsentees(ctx context.Context, c attendance.Code, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailMarkAbsentees[c.ID] {
		return 0, context.DeadlineExceeded
	}
	subj, ok := m.subjects[c.SubjectID]
	if !ok {
		return 0, attendance.ErrSubjectNotFound
	}
	inserted := 0
	for id, st := range m.students {
		if st.semester != subj.semester || (c.ClassID != "" && st.class != c.ClassID) {
			continue
		}
		key := keyOf(id, c.SubjectID, c.Day)
		if _, exists := m.records[key]; exists {
			continue
		}
		teacher := c.IssuerID
		m.records[key] = attendance.Record{
			ID:        uuid.NewString(),
			StudentID: id,
			SubjectID: c.SubjectID,
			TeacherID: &teacher,
			Status:    attendance.StatusAbsent,
			Day:       c.Day,
			MarkedAt:  now,
		}
		inserted++
	}
	c.AbsenteesMarked = true
	m.codes[c.ID] = c
	return inserted, nil
}

func (m *MemStore) HasRecord(ctx context.Context, studentID, subjectID string, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[keyOf(studentID, subjectID, day)]
	return ok, nil
}

func (m *MemStore) HasPendingRequest(ctx context.Context, studentID, subjectID string, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingLocked(studentID, subjectID, day), nil
}

func (m *MemStore) pendingLocked(studentID, subjectID string, day time.Time) bool {
	for _, existing := range m.requests {
		if existing.Status == attendance.RequestPending && existing.StudentID == studentID &&
			existing.SubjectID == subjectID && existing.Day.Equal(day) {
			return true
		}
	}
	return false
}

func (m *MemStore) CreateRequest(ctx context.Context, r attendance.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingLocked(r.StudentID, r.SubjectID, r.Day) {
		return attendance.ErrRequestExists
	}
	m.requests[r.ID] = r
	return nil
}

func (m *MemStore) GetRequest(ctx context.Context, id string) (attendance.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return attendance.Request{}, attendance.ErrRequestNotFound
	}
	return r, nil
}

func (m *MemStore) ResolveRequest(ctx context.Context, id string, status attendance.RequestStatus, adminID string, now time.Time) (attendance.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return attendance.Request{}, attendance.ErrRequestNotFound
	}
	if r.Status != attendance.RequestPending {
		return attendance.Request{}, attendance.ErrRequestResolved
	}
	r.Status = status
	r.ResolvedBy = &adminID
	r.ResolvedAt = &now
	m.requests[id] = r

	if status == attendance.RequestApproved {
		key := keyOf(r.StudentID, r.SubjectID, r.Day)
		rec, exists := m.records[key]
		if !exists {
			rec = attendance.Record{ID: uuid.NewString(), StudentID: r.StudentID, SubjectID: r.SubjectID, Day: r.Day}
		}
		admin := adminID
		rec.TeacherID = &admin
		rec.Status = attendance.StatusPresent
		rec.MarkedAt = now
		m.records[key] = rec
	}
	return r, nil
}

func (m *MemStore) DeleteRequest(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return attendance.ErrRequestNotFound
	}
	if r.Status == attendance.RequestPending {
		return attendance.ErrRequestPending
	}
	delete(m.requests, id)
	return nil
}

func (m *MemStore) ListRequests(ctx context.Context, f attendance.RequestFilter) ([]attendance.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []attendance.Request
	for _, r := range m.requests {
		if f.StudentID != "" && r.StudentID != f.StudentID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) ListRecords(ctx context.Context, f attendance.RecordFilter) ([]attendance.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []attendance.Record
	for _, r := range m.records {
		if f.StudentID != "" && r.StudentID != f.StudentID {
			continue
		}
		if f.SubjectID != "" && r.SubjectID != f.SubjectID {
			continue
		}
		if !f.From.IsZero() && r.Day.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && r.Day.After(f.To) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.After(out[j].Day) })
	return out, nil
}

func (m *MemStore) SubjectReport(ctx context.Context, subjectID string, from, to time.Time) ([]attendance.StudentSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byStudent := map[string]*attendance.StudentSummary{}
	for _, r := range m.records {
		if r.SubjectID != subjectID {
			continue
		}
		if (!from.IsZero() && r.Day.Before(from)) || (!to.IsZero() && r.Day.After(to)) {
			continue
		}
		s, ok := byStudent[r.StudentID]
		if !ok {
			s = &attendance.StudentSummary{StudentID: r.StudentID, Name: m.students[r.StudentID].name}
			byStudent[r.StudentID] = s
		}
		s.Total++
		if r.Status == attendance.StatusPresent {
			s.Present++
		}
	}
	out := make([]attendance.StudentSummary, 0, len(byStudent))
	for _, s := range byStudent {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) StudentReport(ctx context.Context, studentID string) ([]attendance.SubjectSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySubject := map[string]*attendance.SubjectSummary{}
	for _, r := range m.records {
		if r.StudentID != studentID {
			continue
		}
		s, ok := bySubject[r.SubjectID]
		if !ok {
			s = &attendance.SubjectSummary{SubjectID: r.SubjectID, Name: m.subjects[r.SubjectID].name}
			bySubject[r.SubjectID] = s
		}
		s.Total++
		if r.Status == attendance.StatusPresent {
			s.Present++
		}
	}
	out := make([]attendance.SubjectSummary, 0, len(bySubject))
	for _, s := range bySubject {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var _ attendance.Store = (*MemStore)(nil)
