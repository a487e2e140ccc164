package settings

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memRepo struct {
	rows  map[string]string
	loads int
}

func (m *memRepo) Load(ctx context.Context) (map[string]string, error) {
	m.loads++
	out := map[string]string{}
	for k, v := range m.rows {
		out[k] = v
	}
	return out, nil
}

func (m *memRepo) Save(ctx context.Context, values map[string]string) error {
	if m.rows == nil {
		m.rows = map[string]string{}
	}
	for k, v := range values {
		m.rows[k] = v
	}
	return nil
}

var defaults = Values{DistanceThreshold: 100, OTPValidityMinutes: 15}

func TestGetFallsBackToDefaults(t *testing.T) {
	svc := NewService(&memRepo{}, nil, defaults)
	v, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != defaults {
		t.Fatalf("expected defaults, got %+v", v)
	}
	if v.Validity() != 15*time.Minute {
		t.Fatalf("unexpected validity %s", v.Validity())
	}
}

func TestGetIgnoresOutOfRangeRows(t *testing.T) {
	tests := []map[string]string{
		{keyDistance: "-5", keyValidity: "90"},
		{keyDistance: "10000.5", keyValidity: "0"},
		{keyDistance: "+Inf"},
		{keyDistance: "NaN"},
	}
	for _, rows := range tests {
		v, err := NewService(&memRepo{rows: rows}, nil, defaults).Get(context.Background())
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if v != defaults {
			t.Fatalf("expected defaults for rows %v, got %+v", rows, v)
		}
	}

	v, _ := NewService(&memRepo{rows: map[string]string{keyDistance: "10000"}}, nil, defaults).Get(context.Background())
	if v.DistanceThreshold != 10000 {
		t.Fatalf("expected upper bound to be accepted, got %v", v.DistanceThreshold)
	}
}

func TestUpdateValidatesBounds(t *testing.T) {
	tests := []struct {
		name    string
		values  Values
		wantErr bool
	}{
		{"minimum validity", Values{DistanceThreshold: 50, OTPValidityMinutes: 1}, false},
		{"maximum validity", Values{DistanceThreshold: 50, OTPValidityMinutes: 60}, false},
		{"zero validity", Values{DistanceThreshold: 50, OTPValidityMinutes: 0}, true},
		{"validity too long", Values{DistanceThreshold: 50, OTPValidityMinutes: 61}, true},
		{"zero distance", Values{DistanceThreshold: 0, OTPValidityMinutes: 10}, true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(&memRepo{}, nil, defaults)
			err := svc.Update(context.Background(), tc.values)
			var invalid *InvalidError
			if tc.wantErr && !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidError, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestUpdateThenGet(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, nil, defaults)
	want := Values{DistanceThreshold: 42.5, OTPValidityMinutes: 5}
	if err := svc.Update(context.Background(), want); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
