// Package directory manages users, subjects, holidays and sign-in.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"campusattend/internal/auth"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrSubjectCodeTaken   = errors.New("subject code is already in use")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTokenRevoked       = errors.New("refresh token is no longer valid")
	ErrNotTeacher         = errors.New("assigned user is not a teacher")
	ErrNotStudent         = errors.New("user is not a student")
)

// User is an account of any role.
type User struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Semester     int       `json:"semester"`
	ClassID      string    `json:"class_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Subject is a course taught in a semester.
type Subject struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Semester  int       `json:"semester"`
	TeacherID string    `json:"teacher_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Holiday is a day without attendance.
type Holiday struct {
	Day         time.Time `json:"day"`
	Description string    `json:"description"`
}

// Store persists directory data.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context, role string) ([]User, error)
	SetSemester(ctx context.Context, userID string, semester int, classID string) error

	CreateSubject(ctx context.Context, s Subject) error
	ListSubjects(ctx context.Context, teacherID string) ([]Subject, error)

	AddHoliday(ctx context.Context, h Holiday) error
	DeleteHoliday(ctx context.Context, day time.Time) error
	ListHolidays(ctx context.Context) ([]Holiday, error)

	SaveRefreshToken(ctx context.Context, tokenID, userID string, expiresAt time.Time) error
	// ConsumeRefreshToken revokes a live token and reports its owner.
	ConsumeRefreshToken(ctx context.Context, tokenID string, now time.Time) (string, error)
}

// TokenConfig holds JWT issuing parameters.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service implements directory operations.
type Service struct {
	store    Store
	tokens   TokenConfig
	validate *validator.Validate
}

// NewService creates a directory service.
func NewService(store Store, tokens TokenConfig) *Service {
	return &Service{store: store, tokens: tokens, validate: validator.New()}
}

// NewUser is the input to CreateUser.
type NewUser struct {
	Role     string `json:"role" binding:"required" validate:"required,oneof=admin teacher student"`
	Name     string `json:"name" binding:"required" validate:"required,max=120"`
	Email    string `json:"email" binding:"required" validate:"required,email"`
	Password string `json:"password" binding:"required" validate:"required,min=8,max=72"`
	Semester int    `json:"semester" validate:"gte=0,lte=12"`
	ClassID  string `json:"class_id" validate:"max=40"`
}

// InvalidError wraps a validation failure.
type InvalidError struct {
	Err error
}

func (e *InvalidError) Error() string { return "invalid input: " + e.Err.Error() }

func (e *InvalidError) Unwrap() error { return e.Err }

// CreateUser registers an account with a bcrypt-hashed password.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return User{}, &InvalidError{Err: err}
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           uuid.NewString(),
		Role:         in.Role,
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Semester:     in.Semester,
		ClassID:      in.ClassID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	logrus.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("user created")
	return u, nil
}

// EnsureAdmin creates an administrator account when email is not registered yet.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	_, err := s.store.UserByEmail(ctx, strings.ToLower(email))
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return err
	}
	_, err = s.CreateUser(ctx, NewUser{Role: auth.RoleAdmin, Name: "Administrator", Email: email, Password: password})
	return err
}

// Login checks credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (User, auth.TokenPair, error) {
	u, err := s.store.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrUserNotFound) {
		return User{}, auth.TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, auth.TokenPair{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return User{}, auth.TokenPair{}, ErrInvalidCredentials
	}
	pair, err := s.issue(ctx, u)
	if err != nil {
		return User{}, auth.TokenPair{}, err
	}
	return u, pair, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new pair issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	claims, err := auth.ParseRefresh(refreshToken, s.tokens.SigningKey, s.tokens.Issuer)
	if err != nil {
		return auth.TokenPair{}, ErrTokenRevoked
	}
	userID, err := s.store.ConsumeRefreshToken(ctx, claims.ID, time.Now())
	if err != nil {
		return auth.TokenPair{}, err
	}
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return auth.TokenPair{}, err
	}
	return s.issue(ctx, u)
}

func (s *Service) issue(ctx context.Context, u User) (auth.TokenPair, error) {
	pair, err := auth.Issue(u.ID, u.Role, s.tokens.Issuer, s.tokens.SigningKey, s.tokens.AccessTTL, s.tokens.RefreshTTL)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	if err := s.store.SaveRefreshToken(ctx, pair.RefreshTokenID, u.ID, pair.RefreshExp); err != nil {
		return auth.TokenPair{}, fmt.Errorf("save refresh token: %w", err)
	}
	return pair, nil
}

// ListUsers returns users, optionally of one role.
func (s *Service) ListUsers(ctx context.Context, role string) ([]User, error) {
	return s.store.ListUsers(ctx, role)
}

// AssignSemester places a student in a semester and class.
func (s *Service) AssignSemester(ctx context.Context, userID string, semester int, classID string) error {
	if semester < 1 || semester > 12 {
		return &InvalidError{Err: errors.New("semester must be between 1 and 12")}
	}
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role != auth.RoleStudent {
		return ErrNotStudent
	}
	return s.store.SetSemester(ctx, userID, semester, strings.TrimSpace(classID))
}

// NewSubject is the input to CreateSubject.
type NewSubject struct {
	Code      string `json:"code" binding:"required" validate:"required,max=20"`
	Name      string `json:"name" binding:"required" validate:"required,max=120"`
	Semester  int    `json:"semester" binding:"required" validate:"min=1,max=12"`
	TeacherID string `json:"teacher_id"`
}

// CreateSubject adds a subject, optionally assigned to a teacher.
func (s *Service) CreateSubject(ctx context.Context, in NewSubject) (Subject, error) {
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	if err := s.validate.Struct(in); err != nil {
		return Subject{}, &InvalidError{Err: err}
	}
	if in.TeacherID != "" {
		u, err := s.store.UserByID(ctx, in.TeacherID)
		if err != nil {
			return Subject{}, err
		}
		if u.Role != auth.RoleTeacher {
			return Subject{}, ErrNotTeacher
		}
	}
	sub := Subject{
		ID:        uuid.NewString(),
		Code:      in.Code,
		Name:      strings.TrimSpace(in.Name),
		Semester:  in.Semester,
		TeacherID: in.TeacherID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSubject(ctx, sub); err != nil {
		return Subject{}, err
	}
	return sub, nil
}

// ListSubjects returns subjects, optionally those of one teacher.
func (s *Service) ListSubjects(ctx context.Context, teacherID string) ([]Subject, error) {
	return s.store.ListSubjects(ctx, teacherID)
}

// AddHoliday records a holiday; re-adding a day updates its description.
func (s *Service) AddHoliday(ctx context.Context, day, description string) (Holiday, error) {
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		return Holiday{}, &InvalidError{Err: errors.New("date must be YYYY-MM-DD")}
	}
	h := Holiday{Day: d, Description: strings.TrimSpace(description)}
	if err := s.store.AddHoliday(ctx, h); err != nil {
		return Holiday{}, err
	}
	return h, nil
}

// DeleteHoliday removes a holiday.
func (s *Service) DeleteHoliday(ctx context.Context, day string) error {
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		return &InvalidError{Err: errors.New("date must be YYYY-MM-DD")}
	}
	return s.store.DeleteHoliday(ctx, d)
}

// ListHolidays returns all holidays in date order.
func (s *Service) ListHolidays(ctx context.Context) ([]Holiday, error) {
	return s.store.ListHolidays(ctx)
}
