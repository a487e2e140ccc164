package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"campusattend/internal/store"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const codeColumns = `id, code, issuer_id, subject_id, class_id, origin_lat, origin_lon, radius_meters, day, issued_at, expires_at, absentees_marked`

type scanner interface {
	Scan(dest ...any) error
}

func scanCode(row scanner) (Code, error) {
	var c Code
	err := row.Scan(&c.ID, &c.Code, &c.IssuerID, &c.SubjectID, &c.ClassID, &c.OriginLat, &c.OriginLon,
		&c.RadiusMeters, &c.Day, &c.IssuedAt, &c.ExpiresAt, &c.AbsenteesMarked)
	return c, err
}

// SubjectOwner returns the subject's teacher id, empty when unassigned.
func (r *Repository) SubjectOwner(ctx context.Context, subjectID string) (string, error) {
	var owner sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT teacher_id FROM subjects WHERE id = $1`, subjectID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSubjectNotFound
	}
	if err != nil {
		return "", err
	}
	return owner.String, nil
}

// IsHoliday reports whether day is a configured holiday.
func (r *Repository) IsHoliday(ctx context.Context, day time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM holidays WHERE day = $1::date)`,
		day.Format(DateLayout)).Scan(&exists)
	return exists, err
}

// CreateCode inserts a new code. A clash on the code value yields ErrDuplicateCode.
func (r *Repository) CreateCode(ctx context.Context, c Code) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_codes (id, code, issuer_id, subject_id, class_id, origin_lat, origin_lon, radius_meters, day, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::date, $10, $11)
	`, c.ID, c.Code, c.IssuerID, c.SubjectID, c.ClassID, c.OriginLat, c.OriginLon, c.RadiusMeters,
		c.Day.Format(DateLayout), c.IssuedAt, c.ExpiresAt)
	if store.IsUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

// GetCode returns a code by id.
func (r *Repository) GetCode(ctx context.Context, id string) (Code, error) {
	c, err := scanCode(r.db.QueryRowContext(ctx, `SELECT `+codeColumns+` FROM attendance_codes WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Code{}, ErrCodeNotFound
	}
	return c, err
}

// ActiveCodes returns the issuer's codes whose window is still open.
func (r *Repository) ActiveCodes(ctx context.Context, issuerID string, now time.Time) ([]Code, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+codeColumns+` FROM attendance_codes
		WHERE issuer_id = $1 AND expires_at > $2
		ORDER BY issued_at DESC
	`, issuerID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Code
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RedeemCode runs the redemption in a single transaction. The code row is
// locked for share so a concurrent sweep cannot interleave, and the
// (code, student) primary key plus the (student, subject, day) unique key
// close the double-submit race.
func (r *Repository) RedeemCode(ctx context.Context, code, studentID string, now time.Time, check func(Code, bool) error) (Record, error) {
	var rec Record
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		c, err := scanCode(tx.QueryRowContext(ctx, `SELECT `+codeColumns+` FROM attendance_codes WHERE code = $1 FOR SHARE`, code))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCodeNotFound
		}
		if err != nil {
			return err
		}

		var redeemed bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM code_redemptions WHERE code_id = $1 AND student_id = $2 AND used)
			    OR EXISTS (SELECT 1 FROM attendance WHERE student_id = $2 AND subject_id = $3 AND day = $4::date AND status = 'present')
		`, c.ID, studentID, c.SubjectID, c.Day.Format(DateLayout)).Scan(&redeemed)
		if err != nil {
			return err
		}
		if err := check(c, redeemed); err != nil {
			return err
		}

		// Only students the sweep would mark absent may redeem.
		var eligible bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM users u JOIN subjects s ON s.id = $2
				WHERE u.id = $1 AND u.role = 'student' AND u.semester = s.semester
				  AND ($3 = '' OR u.class_id = $3)
			)
		`, studentID, c.SubjectID, c.ClassID).Scan(&eligible)
		if err != nil {
			return err
		}
		if !eligible {
			return ErrNotEnrolled
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO code_redemptions (code_id, student_id, used, used_at)
			VALUES ($1, $2, TRUE, $3)
			ON CONFLICT (code_id, student_id) DO NOTHING
		`, c.ID, studentID, now)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrAlreadyRedeemed
		}

		teacher := c.IssuerID
		rec = Record{
			StudentID: studentID,
			SubjectID: c.SubjectID,
			TeacherID: &teacher,
			Status:    StatusPresent,
			Day:       c.Day,
			MarkedAt:  now,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO attendance (id, student_id, subject_id, teacher_id, status, day, marked_at)
			VALUES ($1, $2, $3, $4, 'present', $5::date, $6)
			ON CONFLICT (student_id, subject_id, day) DO UPDATE
				SET status = 'present', teacher_id = EXCLUDED.teacher_id, marked_at = EXCLUDED.marked_at
				WHERE attendance.status <> 'present'
			RETURNING id
		`, uuid.NewString(), studentID, c.SubjectID, teacher, c.Day.Format(DateLayout), now).Scan(&rec.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAlreadyRedeemed
		}
		if store.IsUniqueViolation(err) {
			return ErrAlreadyRedeemed
		}
		return err
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ExpiredCodes returns expired codes that have not been swept, oldest first.
func (r *Repository) ExpiredCodes(ctx context.Context, now time.Time, limit int) ([]Code, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+codeColumns+` FROM attendance_codes
		WHERE NOT absentees_marked AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Code
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkAbsentees inserts absent marks for the code's eligible students that
// have no record for the subject and day, then flags the code as processed.
// Eligible students share the subject's semester and, when set, the code's class.
func (r *Repository) MarkAbsentees(ctx context.Context, c Code, now time.Time) (int, error) {
	inserted := 0
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT u.id FROM users u
			JOIN subjects s ON s.id = $1
			WHERE u.role = 'student'
			  AND u.semester = s.semester
			  AND ($2 = '' OR u.class_id = $2)
			  AND NOT EXISTS (
				SELECT 1 FROM attendance a
				WHERE a.student_id = u.id AND a.subject_id = $1 AND a.day = $3::date
			  )
		`, c.SubjectID, c.ClassID, c.Day.Format(DateLayout))
		if err != nil {
			return err
		}
		var students []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			students = append(students, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, sid := range students {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO attendance (id, student_id, subject_id, teacher_id, status, day, marked_at)
				VALUES ($1, $2, $3, $4, 'absent', $5::date, $6)
				ON CONFLICT (student_id, subject_id, day) DO NOTHING
			`, uuid.NewString(), sid, c.SubjectID, c.IssuerID, c.Day.Format(DateLayout), now)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}

		_, err = tx.ExecContext(ctx, `UPDATE attendance_codes SET absentees_marked = TRUE WHERE id = $1`, c.ID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// HasRecord reports whether any mark exists for the student, subject and day.
func (r *Repository) HasRecord(ctx context.Context, studentID, subjectID string, day time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance WHERE student_id = $1 AND subject_id = $2 AND day = $3::date)
	`, studentID, subjectID, day.Format(DateLayout)).Scan(&exists)
	return exists, err
}

// HasPendingRequest reports whether the student already has an open request for the slot.
func (r *Repository) HasPendingRequest(ctx context.Context, studentID, subjectID string, day time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_requests
			WHERE student_id = $1 AND subject_id = $2 AND day = $3::date AND status = 'pending'
		)
	`, studentID, subjectID, day.Format(DateLayout)).Scan(&exists)
	return exists, err
}

const requestColumns = `id, student_id, subject_id, day, reason, latitude, longitude, evidence_url, status, resolved_by, created_at, resolved_at`

func scanRequest(row scanner) (Request, error) {
	var (
		req        Request
		status     string
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(&req.ID, &req.StudentID, &req.SubjectID, &req.Day, &req.Reason, &req.Latitude, &req.Longitude,
		&req.EvidenceURL, &status, &resolvedBy, &req.CreatedAt, &resolvedAt)
	if err != nil {
		return Request{}, err
	}
	req.Status = RequestStatus(status)
	if resolvedBy.Valid {
		req.ResolvedBy = &resolvedBy.String
	}
	if resolvedAt.Valid {
		req.ResolvedAt = &resolvedAt.Time
	}
	return req, nil
}

// CreateRequest inserts a pending request.
func (r *Repository) CreateRequest(ctx context.Context, req Request) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_requests (id, student_id, subject_id, day, reason, latitude, longitude, evidence_url, status, created_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, 'pending', $9)
	`, req.ID, req.StudentID, req.SubjectID, req.Day.Format(DateLayout), req.Reason, req.Latitude, req.Longitude,
		req.EvidenceURL, req.CreatedAt)
	if store.IsUniqueViolation(err) {
		return ErrRequestExists
	}
	return err
}

// GetRequest returns a request by id.
func (r *Repository) GetRequest(ctx context.Context, id string) (Request, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM attendance_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrRequestNotFound
	}
	return req, err
}

// ResolveRequest moves a pending request to status. Approval upserts a present
// record for the request's student, subject and day in the same transaction.
func (r *Repository) ResolveRequest(ctx context.Context, id string, status RequestStatus, adminID string, now time.Time) (Request, error) {
	var out Request
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		req, err := scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM attendance_requests WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRequestNotFound
		}
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return ErrRequestResolved
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE attendance_requests SET status = $2, resolved_by = $3, resolved_at = $4 WHERE id = $1
		`, id, string(status), adminID, now); err != nil {
			return err
		}

		if status == RequestApproved {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO attendance (id, student_id, subject_id, teacher_id, status, day, marked_at)
				VALUES ($1, $2, $3, $4, 'present', $5::date, $6)
				ON CONFLICT (student_id, subject_id, day) DO UPDATE
					SET status = 'present', teacher_id = EXCLUDED.teacher_id, marked_at = EXCLUDED.marked_at
			`, uuid.NewString(), req.StudentID, req.SubjectID, adminID, req.Day.Format(DateLayout), now); err != nil {
				return err
			}
		}

		req.Status = status
		req.ResolvedBy = &adminID
		req.ResolvedAt = &now
		out = req
		return nil
	})
	return out, err
}

// DeleteRequest removes an approved or rejected request.
func (r *Repository) DeleteRequest(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance_requests WHERE id = $1 AND status <> 'pending'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := r.GetRequest(ctx, id); err != nil {
		return err
	}
	return ErrRequestPending
}

// ListRequests returns requests with basic filters, newest first.
func (r *Repository) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	q := newQuery(`SELECT ` + requestColumns + ` FROM attendance_requests`)
	if f.StudentID != "" {
		q.where("student_id = ", f.StudentID)
	}
	if f.Status != "" {
		q.where("status = ", string(f.Status))
	}
	query, args := q.build("created_at DESC", f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ListRecords returns attendance records with basic filters, newest first.
func (r *Repository) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	q := newQuery(`SELECT id, student_id, subject_id, teacher_id, status, day, marked_at FROM attendance`)
	if f.StudentID != "" {
		q.where("student_id = ", f.StudentID)
	}
	if f.SubjectID != "" {
		q.where("subject_id = ", f.SubjectID)
	}
	if !f.From.IsZero() {
		q.where("day >= ", f.From.Format(DateLayout), "::date")
	}
	if !f.To.IsZero() {
		q.where("day <= ", f.To.Format(DateLayout), "::date")
	}
	query, args := q.build("day DESC, marked_at DESC", f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec     Record
			status  string
			teacher sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.SubjectID, &teacher, &status, &rec.Day, &rec.MarkedAt); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		if teacher.Valid {
			rec.TeacherID = &teacher.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SubjectReport aggregates present and total marks per student for a subject.
func (r *Repository) SubjectReport(ctx context.Context, subjectID string, from, to time.Time) ([]StudentSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.student_id, u.name,
		       COUNT(*) FILTER (WHERE a.status = 'present'),
		       COUNT(*)
		FROM attendance a
		JOIN users u ON u.id = a.student_id
		WHERE a.subject_id = $1
		  AND ($2::date IS NULL OR a.day >= $2::date)
		  AND ($3::date IS NULL OR a.day <= $3::date)
		GROUP BY a.student_id, u.name
		ORDER BY u.name
	`, subjectID, optionalDay(from), optionalDay(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StudentSummary
	for rows.Next() {
		var s StudentSummary
		if err := rows.Scan(&s.StudentID, &s.Name, &s.Present, &s.Total); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StudentReport aggregates a student's marks per subject. Whole-day records
// are grouped under an empty subject id.
func (r *Repository) StudentReport(ctx context.Context, studentID string) ([]SubjectSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.subject_id, COALESCE(s.name, ''),
		       COUNT(*) FILTER (WHERE a.status = 'present'),
		       COUNT(*)
		FROM attendance a
		LEFT JOIN subjects s ON s.id = a.subject_id
		WHERE a.student_id = $1
		GROUP BY a.subject_id, s.name
		ORDER BY COALESCE(s.name, '')
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SubjectSummary
	for rows.Next() {
		var s SubjectSummary
		if err := rows.Scan(&s.SubjectID, &s.Name, &s.Present, &s.Total); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// optionalDay maps a zero bound to NULL.
func optionalDay(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(DateLayout)
}

// query builds a parameterised SELECT with positional placeholders.
type query struct {
	base    string
	clauses []string
	args    []any
}

func newQuery(base string) *query {
	return &query{base: base}
}

// where appends "<prefix>$n<suffix>" bound to arg.
func (q *query) where(prefix string, arg any, suffix ...string) {
	q.args = append(q.args, arg)
	q.clauses = append(q.clauses, prefix+"$"+strconv.Itoa(len(q.args))+strings.Join(suffix, ""))
}

func (q *query) build(order string, limit, offset int) (string, []any) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	s := q.base
	if len(q.clauses) > 0 {
		s += " WHERE " + strings.Join(q.clauses, " AND ")
	}
	args := append(q.args, limit, offset)
	s += fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", order, len(args)-1, len(args))
	return s, args
}
