package attendance

import (
	"errors"
	"strings"
	"testing"
	"time"

	"campusattend/internal/geo"
)

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c, err := GenerateCode(6)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(c) != 6 {
			t.Fatalf("expected 6 chars, got %q", c)
		}
		for _, r := range c {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("unexpected character %q in %q", r, c)
			}
		}
		seen[c] = true
	}
	if len(seen) < 190 {
		t.Fatalf("codes look insufficiently random: %d distinct of 200", len(seen))
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode("  ab3xk9 "); got != "AB3XK9" {
		t.Fatalf("unexpected normalised code %q", got)
	}
}

func testCode(issued time.Time) Code {
	return Code{
		ID:           "code-1",
		Code:         "ABC234",
		IssuerID:     "teacher-1",
		SubjectID:    "subject-1",
		OriginLat:    12.9716,
		OriginLon:    77.5946,
		RadiusMeters: 100,
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(15 * time.Minute),
	}
}

func TestCheckRedemptionExpiryBoundary(t *testing.T) {
	issued := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := testCode(issued)

	if err := CheckRedemption(c, false, c.OriginLat, c.OriginLon, c.ExpiresAt.Add(-time.Nanosecond)); err != nil {
		t.Fatalf("expected success just before expiry, got %v", err)
	}
	if err := CheckRedemption(c, false, c.OriginLat, c.OriginLon, c.ExpiresAt); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired at expiry, got %v", err)
	}
	if err := CheckRedemption(c, false, c.OriginLat, c.OriginLon, c.ExpiresAt.Add(time.Minute)); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired after expiry, got %v", err)
	}
}

func TestCheckRedemptionRadiusBoundary(t *testing.T) {
	issued := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := testCode(issued)
	lat, lon := c.OriginLat+0.0008, c.OriginLon
	d := geo.Distance(lat, lon, c.OriginLat, c.OriginLon)

	c.RadiusMeters = d
	if err := CheckRedemption(c, false, lat, lon, issued); err != nil {
		t.Fatalf("expected distance equal to radius to pass, got %v", err)
	}
	c.RadiusMeters = d - 0.01
	if err := CheckRedemption(c, false, lat, lon, issued); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestCheckRedemptionRejectsAntipodalLocation(t *testing.T) {
	issued := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := testCode(issued)
	c.OriginLat, c.OriginLon = 18.8389, 158.5833
	c.RadiusMeters = 100

	err := CheckRedemption(c, false, -18.8389, -21.4167, issued)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange for the far side of the Earth, got %v", err)
	}
}

func TestCheckRedemptionRuleOrder(t *testing.T) {
	issued := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := testCode(issued)
	far := c.OriginLat + 1

	tests := []struct {
		name     string
		redeemed bool
		lat      float64
		now      time.Time
		want     error
	}{
		{"expired wins over redeemed and range", true, far, c.ExpiresAt, ErrCodeExpired},
		{"redeemed wins over range", true, far, issued, ErrAlreadyRedeemed},
		{"out of range", false, far, issued, ErrOutOfRange},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := CheckRedemption(c, tc.redeemed, tc.lat, c.OriginLon, tc.now)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRecordMarkedBy(t *testing.T) {
	if (Record{}).MarkedBy() != SystemMarker {
		t.Fatalf("expected system marker for nil teacher")
	}
	teacher := "teacher-1"
	if (Record{TeacherID: &teacher}).MarkedBy() != teacher {
		t.Fatalf("expected teacher id")
	}
}

func TestSummaryPercentage(t *testing.T) {
	if (StudentSummary{}).Percentage() != 0 {
		t.Fatalf("expected 0 for empty summary")
	}
	if got := (SubjectSummary{Present: 3, Total: 4}).Percentage(); got != 75 {
		t.Fatalf("expected 75, got %v", got)
	}
}

func TestQueryBuilder(t *testing.T) {
	q := newQuery("SELECT id FROM attendance")
	q.where("student_id = ", "s-1")
	q.where("day >= ", "2026-01-01", "::date")
	sql, args := q.build("day DESC", 0, -3)
	want := "SELECT id FROM attendance WHERE student_id = $1 AND day >= $2::date ORDER BY day DESC LIMIT $3 OFFSET $4"
	if sql != want {
		t.Fatalf("unexpected query:\n%s\nwant:\n%s", sql, want)
	}
	if len(args) != 4 || args[2] != 50 || args[3] != 0 {
		t.Fatalf("unexpected args %v", args)
	}
}
