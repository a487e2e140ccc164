// Package directorytest provides an in-memory directory.Store for tests.
package directorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"campusattend/internal/directory"
)

type refreshToken struct {
	userID  string
	expires time.Time
	revoked bool
}

// MemStore keeps directory data in maps.
type MemStore struct {
	mu       sync.Mutex
	users    map[string]directory.User
	subjects map[string]directory.Subject
	holidays map[string]directory.Holiday
	tokens   map[string]*refreshToken
}

// New returns an empty store.
func New() *MemStore {
	return &MemStore{
		users:    map[string]directory.User{},
		subjects: map[string]directory.Subject{},
		holidays: map[string]directory.Holiday{},
		tokens:   map[string]*refreshToken{},
	}
}

func (m *MemStore) CreateUser(ctx context.Context, u directory.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return directory.ErrEmailTaken
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemStore) UserByEmail(ctx context.Context, email string) (directory.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return directory.User{}, directory.ErrUserNotFound
}

func (m *MemStore) UserByID(ctx context.Context, id string) (directory.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return directory.User{}, directory.ErrUserNotFound
	}
	return u, nil
}

func (m *MemStore) ListUsers(ctx context.Context, role string) ([]directory.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []directory.User
	for _, u := range m.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) SetSemester(ctx context.Context, userID string, semester int, classID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return directory.ErrUserNotFound
	}
	u.Semester = semester
	u.ClassID = classID
	m.users[userID] = u
	return nil
}

func (m *MemStore) CreateSubject(ctx context.Context, s directory.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subjects {
		if existing.Code == s.Code {
			return directory.ErrSubjectCodeTaken
		}
	}
	m.subjects[s.ID] = s
	return nil
}

func (m *MemStore) ListSubjects(ctx context.Context, teacherID string) ([]directory.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []directory.Subject
	for _, s := range m.subjects {
		if teacherID == "" || s.TeacherID == teacherID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemStore) AddHoliday(ctx context.Context, h directory.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays[h.Day.Format("2006-01-02")] = h
	return nil
}

func (m *MemStore) DeleteHoliday(ctx context.Context, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holidays, day.Format("2006-01-02"))
	return nil
}

func (m *MemStore) ListHolidays(ctx context.Context) ([]directory.Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]directory.Holiday, 0, len(m.holidays))
	for _, h := range m.holidays {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (m *MemStore) SaveRefreshToken(ctx context.Context, tokenID, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenID] = &refreshToken{userID: userID, expires: expiresAt}
	return nil
}

func (m *MemStore) ConsumeRefreshToken(ctx context.Context, tokenID string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok || t.revoked || !t.expires.After(now) {
		return "", directory.ErrTokenRevoked
	}
	t.revoked = true
	return t.userID, nil
}

var _ directory.Store = (*MemStore)(nil)
