package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	keyDistance = "distance_threshold"
	keyValidity = "otp_validity_minutes"

	maxDistance = 10000

	cacheKey = "attendance:settings"
	cacheTTL = 60 * time.Second
)

// Values are the administrator-configurable attendance settings.
type Values struct {
	DistanceThreshold  float64 `json:"distance_threshold" validate:"gt=0,lte=10000"`
	OTPValidityMinutes int     `json:"otp_validity_minutes" validate:"min=1,max=60"`
}

// Validity returns the code lifetime.
func (v Values) Validity() time.Duration {
	return time.Duration(v.OTPValidityMinutes) * time.Minute
}

// Repository loads and saves raw setting rows.
type Repository interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, values map[string]string) error
}

// Service serves settings with a Redis read-through cache.
type Service struct {
	repo     Repository
	cache    *redis.Client
	defaults Values
	validate *validator.Validate
}

// NewService creates a settings service; cache may be nil.
func NewService(repo Repository, cache *redis.Client, defaults Values) *Service {
	return &Service{repo: repo, cache: cache, defaults: defaults, validate: validator.New()}
}

// Get returns the current settings, falling back to defaults for missing keys.
func (s *Service) Get(ctx context.Context) (Values, error) {
	if v, ok := s.fromCache(ctx); ok {
		return v, nil
	}
	raw, err := s.repo.Load(ctx)
	if err != nil {
		return Values{}, fmt.Errorf("load settings: %w", err)
	}
	v := s.merge(raw)
	s.toCache(ctx, v)
	return v, nil
}

// Update validates and persists new settings.
func (s *Service) Update(ctx context.Context, v Values) error {
	if err := s.validate.Struct(v); err != nil {
		return &InvalidError{Err: err}
	}
	err := s.repo.Save(ctx, map[string]string{
		keyDistance: strconv.FormatFloat(v.DistanceThreshold, 'f', -1, 64),
		keyValidity: strconv.Itoa(v.OTPValidityMinutes),
	})
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, cacheKey).Err(); err != nil {
			logrus.WithError(err).Warn("settings cache invalidation failed")
		}
	}
	logrus.WithFields(logrus.Fields{
		"distance_threshold":   v.DistanceThreshold,
		"otp_validity_minutes": v.OTPValidityMinutes,
	}).Info("settings updated")
	return nil
}

func (s *Service) merge(raw map[string]string) Values {
	v := s.defaults
	if d, err := strconv.ParseFloat(raw[keyDistance], 64); err == nil && d > 0 && d <= maxDistance {
		v.DistanceThreshold = d
	}
	if m, err := strconv.Atoi(raw[keyValidity]); err == nil && m >= 1 && m <= 60 {
		v.OTPValidityMinutes = m
	}
	return v
}

func (s *Service) fromCache(ctx context.Context) (Values, bool) {
	if s.cache == nil {
		return Values{}, false
	}
	b, err := s.cache.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logrus.WithError(err).Debug("settings cache read failed")
		}
		return Values{}, false
	}
	var v Values
	if err := json.Unmarshal(b, &v); err != nil {
		return Values{}, false
	}
	return v, true
}

func (s *Service) toCache(ctx context.Context, v Values) {
	if s.cache == nil {
		return
	}
	b, _ := json.Marshal(v)
	if err := s.cache.Set(ctx, cacheKey, b, cacheTTL).Err(); err != nil {
		logrus.WithError(err).Debug("settings cache write failed")
	}
}

// InvalidError reports settings that fail validation.
type InvalidError struct {
	Err error
}

func (e *InvalidError) Error() string { return "invalid settings: " + e.Err.Error() }

func (e *InvalidError) Unwrap() error { return e.Err }

// PGRepository stores settings as key/value rows in Postgres.
type PGRepository struct {
	db *sql.DB
}

// NewPGRepository creates a repo.
func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

// Load returns all setting rows.
func (r *PGRepository) Load(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Save upserts the given rows in one transaction.
func (r *PGRepository) Save(ctx context.Context, values map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}
