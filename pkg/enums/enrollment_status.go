package enums

import "fmt"

// EnrollmentStatus reports whether course access granted by a payment is live.
type EnrollmentStatus string

const (
	EnrollmentStatusActive  EnrollmentStatus = "ACTIVE"
	EnrollmentStatusRevoked EnrollmentStatus = "REVOKED"
)

var validEnrollmentStatuss = []EnrollmentStatus{
	EnrollmentStatusActive,
	EnrollmentStatusRevoked,
}

// String implements fmt.Stringer.
func (e EnrollmentStatus) String() string {
	return string(e)
}

// IsValid reports whether the value is known.
func (e EnrollmentStatus) IsValid() bool {
	for _, candidate := range validEnrollmentStatuss {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEnrollmentStatus converts raw input into a EnrollmentStatus.
func ParseEnrollmentStatus(value string) (EnrollmentStatus, error) {
	for _, candidate := range validEnrollmentStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid enrollment status %q", value)
}
