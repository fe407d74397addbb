package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxTenantIDLength bounds tenant identifiers accepted at trust boundaries.
const MaxTenantIDLength = 64

// ErrInvalidTenantID is returned by ParseTenantID and TenantID.Validate.
var ErrInvalidTenantID = errors.New("invalid tenant id")

// TenantID identifies an isolated customer organisation. The zero value means
// "no tenant" and is a legal state for system-originated work.
type TenantID string

// ParseTenantID validates raw input from headers, paths or config.
// Surrounding whitespace is trimmed.
func ParseTenantID(s string) (TenantID, error) {
	t := TenantID(strings.TrimSpace(s))
	if t.IsZero() {
		return "", fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Validate checks t exactly as given, without trimming. The zero tenant is
// valid.
func (t TenantID) Validate() error {
	if len(t) > MaxTenantIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidTenantID, MaxTenantIDLength)
	}
	for _, r := range string(t) {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidTenantID)
		}
	}
	return nil
}

// IsZero reports whether no tenant is set.
func (t TenantID) IsZero() bool { return t == "" }

func (t TenantID) String() string { return string(t) }

// Ptr returns nil for the zero tenant so it maps onto nullable columns.
func (t TenantID) Ptr() *string {
	if t.IsZero() {
		return nil
	}
	s := string(t)
	return &s
}
