package usecase

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"
)

const (
	trackingDayLayout = "20060102"
	maxTrackingSeq    = 999_999
)

var trackingIDPattern = regexp.MustCompile(`^GRV-\d{8}-\d{6}$`)

// NewTrackingID returns a candidate public tracking id for a grievance
// created at ts. Uniqueness is enforced at persistence, not here.
func NewTrackingID(ts time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("usecase: tracking id entropy: %w", err)
	}
	return fmt.Sprintf("GRV-%s-%06d", ts.UTC().Format(trackingDayLayout), n.Int64()), nil
}

// SequentialTrackingID formats the seq-th tracking id of ts's day. It fails
// once the day's six-digit space is used up.
func SequentialTrackingID(ts time.Time, seq int64) (string, error) {
	if seq < 0 || seq > maxTrackingSeq {
		return "", fmt.Errorf("usecase: tracking sequence %d out of range", seq)
	}
	return fmt.Sprintf("GRV-%s-%06d", ts.UTC().Format(trackingDayLayout), seq), nil
}

// ValidTrackingID reports whether s has the GRV-YYYYMMDD-NNNNNN shape.
func ValidTrackingID(s string) bool {
	return trackingIDPattern.MatchString(s)
}
