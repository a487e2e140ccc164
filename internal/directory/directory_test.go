package directory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"campusattend/internal/auth"
	"campusattend/internal/directory"
	"campusattend/internal/directory/directorytest"
)

var tokens = directory.TokenConfig{
	Issuer:     "campusattend-test",
	SigningKey: "test-key",
	AccessTTL:  time.Minute,
	RefreshTTL: time.Hour,
}

func TestCreateUserAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := directory.NewService(directorytest.New(), tokens)

	u, err := svc.CreateUser(ctx, directory.NewUser{
		Role: auth.RoleStudent, Name: " Alice ", Email: "Alice@Example.com", Password: "correct-horse", Semester: 3, ClassID: "A",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Email != "alice@example.com" || u.Name != "Alice" {
		t.Fatalf("expected normalised user, got %+v", u)
	}
	if u.PasswordHash == "correct-horse" {
		t.Fatalf("password stored in plain text")
	}

	if _, err := svc.CreateUser(ctx, directory.NewUser{
		Role: auth.RoleStudent, Name: "Other", Email: "alice@example.com", Password: "another-pass",
	}); !errors.Is(err, directory.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	got, pair, err := svc.Login(ctx, "ALICE@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("logged in as wrong user")
	}
	claims, err := auth.Parse(pair.AccessToken, tokens.SigningKey, tokens.Issuer)
	if err != nil || claims.Role != auth.RoleStudent {
		t.Fatalf("unexpected access token claims %+v (%v)", claims, err)
	}

	if _, _, err := svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, directory.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "whatever"); !errors.Is(err, directory.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc := directory.NewService(directorytest.New(), tokens)
	tests := []directory.NewUser{
		{Role: "janitor", Name: "X", Email: "x@example.com", Password: "long-enough"},
		{Role: auth.RoleTeacher, Name: "X", Email: "not-an-email", Password: "long-enough"},
		{Role: auth.RoleTeacher, Name: "X", Email: "x@example.com", Password: "short"},
		{Role: auth.RoleStudent, Name: "X", Email: "x@example.com", Password: "long-enough", Semester: 13},
	}
	for _, in := range tests {
		var invalid *directory.InvalidError
		if _, err := svc.CreateUser(context.Background(), in); !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidError for %+v, got %v", in, err)
		}
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	ctx := context.Background()
	svc := directory.NewService(directorytest.New(), tokens)
	if _, err := svc.CreateUser(ctx, directory.NewUser{Role: auth.RoleTeacher, Name: "T", Email: "t@example.com", Password: "teacher-pass"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, pair, err := svc.Login(ctx, "t@example.com", "teacher-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshTokenID == pair.RefreshTokenID {
		t.Fatalf("expected a new refresh token")
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, directory.ErrTokenRevoked) {
		t.Fatalf("expected reused refresh token to be rejected, got %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.AccessToken); !errors.Is(err, directory.ErrTokenRevoked) {
		t.Fatalf("expected access token to be rejected for refresh, got %v", err)
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := directorytest.New()
	svc := directory.NewService(st, tokens)
	for i := 0; i < 2; i++ {
		if err := svc.EnsureAdmin(ctx, "root@example.com", "bootstrap-pass"); err != nil {
			t.Fatalf("ensure admin: %v", err)
		}
	}
	admins, _ := svc.ListUsers(ctx, auth.RoleAdmin)
	if len(admins) != 1 {
		t.Fatalf("expected one admin, got %d", len(admins))
	}
	if err := svc.EnsureAdmin(ctx, "", ""); err != nil {
		t.Fatalf("empty bootstrap credentials should be a no-op, got %v", err)
	}
}

func TestSubjectsAndSemesters(t *testing.T) {
	ctx := context.Background()
	svc := directory.NewService(directorytest.New(), tokens)
	teacher, _ := svc.CreateUser(ctx, directory.NewUser{Role: auth.RoleTeacher, Name: "T", Email: "t@example.com", Password: "teacher-pass"})
	student, _ := svc.CreateUser(ctx, directory.NewUser{Role: auth.RoleStudent, Name: "S", Email: "s@example.com", Password: "student-pass"})

	sub, err := svc.CreateSubject(ctx, directory.NewSubject{Code: " phy101 ", Name: "Physics", Semester: 3, TeacherID: teacher.ID})
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
	if sub.Code != "PHY101" {
		t.Fatalf("expected upper-cased code, got %q", sub.Code)
	}
	if _, err := svc.CreateSubject(ctx, directory.NewSubject{Code: "PHY101", Name: "Dup", Semester: 3}); !errors.Is(err, directory.ErrSubjectCodeTaken) {
		t.Fatalf("expected ErrSubjectCodeTaken, got %v", err)
	}
	if _, err := svc.CreateSubject(ctx, directory.NewSubject{Code: "CHE101", Name: "Chem", Semester: 3, TeacherID: student.ID}); !errors.Is(err, directory.ErrNotTeacher) {
		t.Fatalf("expected ErrNotTeacher, got %v", err)
	}

	if err := svc.AssignSemester(ctx, student.ID, 3, "A"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := svc.AssignSemester(ctx, teacher.ID, 3, "A"); !errors.Is(err, directory.ErrNotStudent) {
		t.Fatalf("expected ErrNotStudent, got %v", err)
	}
	var invalid *directory.InvalidError
	if err := svc.AssignSemester(ctx, student.ID, 0, ""); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidError, got %v", err)
	}

	mine, _ := svc.ListSubjects(ctx, teacher.ID)
	if len(mine) != 1 {
		t.Fatalf("expected one subject for teacher, got %d", len(mine))
	}
}

func TestHolidays(t *testing.T) {
	ctx := context.Background()
	svc := directory.NewService(directorytest.New(), tokens)
	if _, err := svc.AddHoliday(ctx, "2026-12-25", "Christmas"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddHoliday(ctx, "2026-01-26", "Republic Day"); err != nil {
		t.Fatalf("add: %v", err)
	}
	var invalid *directory.InvalidError
	if _, err := svc.AddHoliday(ctx, "26/01/2026", "bad"); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidError, got %v", err)
	}
	list, _ := svc.ListHolidays(ctx)
	if len(list) != 2 || list[0].Description != "Republic Day" {
		t.Fatalf("unexpected holidays %+v", list)
	}
	if err := svc.DeleteHoliday(ctx, "2026-12-25"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ = svc.ListHolidays(ctx)
	if len(list) != 1 {
		t.Fatalf("expected one holiday after delete, got %d", len(list))
	}
}
