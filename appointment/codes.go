package appointment

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	appointmentCodePrefix = "SF-"
	completionCodePrefix  = "CP-"
	codeDigits            = 6
)

// mintCode produces a prefixed numeric code. Global uniqueness is enforced
// by the unique indexes on the appointments table; the insert path retries
// on collision.
func mintCode(prefix string) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("appointment: mint code: %w", err)
	}
	return fmt.Sprintf("%s%0*d", prefix, codeDigits, n), nil
}

// newCodePair mints the arrival and completion codes for one appointment.
func newCodePair() (appointmentCode, completionCode string, err error) {
	appointmentCode, err = mintCode(appointmentCodePrefix)
	if err != nil {
		return "", "", err
	}
	completionCode, err = mintCode(completionCodePrefix)
	if err != nil {
		return "", "", err
	}
	return appointmentCode, completionCode, nil
}
