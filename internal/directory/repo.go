package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"campusattend/internal/store"
)

// Repository persists directory data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, role, name, email, password_hash, semester, class_id, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Role, &u.Name, &u.Email, &u.PasswordHash, &u.Semester, &u.ClassID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, u User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, role, name, email, password_hash, semester, class_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Role, u.Name, u.Email, u.PasswordHash, u.Semester, u.ClassID, u.CreatedAt)
	if store.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

// UserByEmail returns a user by email.
func (r *Repository) UserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// UserByID returns a user by id.
func (r *Repository) UserByID(ctx context.Context, id string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// ListUsers returns users ordered by name, filtered by role when set.
func (r *Repository) ListUsers(ctx context.Context, role string) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE $1 = '' OR role = $1
		ORDER BY name
	`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetSemester updates a student's semester and class.
func (r *Repository) SetSemester(ctx context.Context, userID string, semester int, classID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET semester = $2, class_id = $3, updated_at = NOW() WHERE id = $1
	`, userID, semester, classID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateSubject inserts a subject.
func (r *Repository) CreateSubject(ctx context.Context, s Subject) error {
	var teacher any
	if s.TeacherID != "" {
		teacher = s.TeacherID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subjects (id, code, name, semester, teacher_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.Code, s.Name, s.Semester, teacher, s.CreatedAt)
	if store.IsUniqueViolation(err) {
		return ErrSubjectCodeTaken
	}
	return err
}

// ListSubjects returns subjects, filtered by teacher when set.
func (r *Repository) ListSubjects(ctx context.Context, teacherID string) ([]Subject, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, code, name, semester, COALESCE(teacher_id, ''), created_at FROM subjects
		WHERE $1 = '' OR teacher_id = $1
		ORDER BY semester, code
	`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subject
	for rows.Next() {
		var s Subject
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Semester, &s.TeacherID, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddHoliday upserts a holiday.
func (r *Repository) AddHoliday(ctx context.Context, h Holiday) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO holidays (day, description) VALUES ($1::date, $2)
		ON CONFLICT (day) DO UPDATE SET description = EXCLUDED.description
	`, h.Day.Format("2006-01-02"), h.Description)
	return err
}

// DeleteHoliday removes a holiday; deleting a missing day is not an error.
func (r *Repository) DeleteHoliday(ctx context.Context, day time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM holidays WHERE day = $1::date`, day.Format("2006-01-02"))
	return err
}

// ListHolidays returns holidays in date order.
func (r *Repository) ListHolidays(ctx context.Context) ([]Holiday, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT day, description FROM holidays ORDER BY day`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Holiday
	for rows.Next() {
		var h Holiday
		if err := rows.Scan(&h.Day, &h.Description); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SaveRefreshToken stores a refresh token id for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, tokenID, userID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_id, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, tokenID, userID, expiresAt)
	return err
}

// ConsumeRefreshToken revokes a live token and returns its owner.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, tokenID string, now time.Time) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token_id = $1 AND NOT revoked AND expires_at > $2
		RETURNING user_id
	`, tokenID, now).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTokenRevoked
	}
	return userID, err
}
