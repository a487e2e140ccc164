package attendance

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"campusattend/internal/geo"
)

// codeAlphabet omits characters that are easy to misread (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateCode returns a random code of n characters from codeAlphabet.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		n = 6
	}
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode trims and upper-cases a code typed by a student.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// CheckRedemption applies the redemption rules to a loaded code in order:
// expiry, prior use by this student, then distance from the issuer.
func CheckRedemption(c Code, redeemed bool, lat, lon float64, now time.Time) error {
	if c.Expired(now) {
		return ErrCodeExpired
	}
	if redeemed {
		return ErrAlreadyRedeemed
	}
	d := geo.Distance(lat, lon, c.OriginLat, c.OriginLon)
	// Written so that a NaN distance is rejected.
	if !(d <= c.RadiusMeters) {
		return fmt.Errorf("%w (%.0fm away, limit %.0fm)", ErrOutOfRange, d, c.RadiusMeters)
	}
	return nil
}
