package domain

import (
	"strings"
	"time"
)

// ManifestDateLength is the length of a manifest date code (MMDDYYYY).
const ManifestDateLength = 8

// Session is one authenticated device/browser instance of a driver.
// AccessTokenHash and RefreshTokenHash hold SHA-256 digests of the current token pair;
// raw tokens are never persisted.
type Session struct {
	ID               int64
	Username         string
	AccessTokenHash  string
	RefreshTokenHash string
	PowerUnit        *string // nil when no resource is claimed
	ManifestDate     *string // nil when no resource is claimed
	ExpiryTime       time.Time
	LoginTime        time.Time
	LastActivity     time.Time
}

// Resource returns the claimed resource and true, or the zero Resource and false when unclaimed.
func (s *Session) Resource() (Resource, bool) {
	if s == nil || s.PowerUnit == nil || s.ManifestDate == nil {
		return Resource{}, false
	}
	return Resource{PowerUnit: *s.PowerUnit, ManifestDate: *s.ManifestDate}, true
}

// Holds reports whether the session currently holds r (normalized comparison).
func (s *Session) Holds(r Resource) bool {
	held, ok := s.Resource()
	return ok && held.Equal(r)
}

// Expired reports whether the session is past its absolute expiry or idle longer than idle at now.
// A non-positive idle disables the idle check.
func (s *Session) Expired(now time.Time, idle time.Duration) bool {
	if !s.ExpiryTime.After(now) {
		return true
	}
	return idle > 0 && s.LastActivity.Before(now.Add(-idle))
}

// Resource is the unit of mutual exclusion: one powerunit's manifest for one date.
type Resource struct {
	PowerUnit    string
	ManifestDate string
}

// NewResource returns the normalized resource (trimmed, upper-cased).
func NewResource(powerUnit, manifestDate string) Resource {
	return Resource{
		PowerUnit:    strings.ToUpper(strings.TrimSpace(powerUnit)),
		ManifestDate: strings.ToUpper(strings.TrimSpace(manifestDate)),
	}
}

// Normalize returns r trimmed and upper-cased.
func (r Resource) Normalize() Resource {
	return NewResource(r.PowerUnit, r.ManifestDate)
}

// Equal compares two resources case-insensitively after trimming.
func (r Resource) Equal(o Resource) bool {
	return r.Normalize() == o.Normalize()
}

// Validate returns ErrInvalidResource when either part is empty or the manifest date is not a date code.
func (r Resource) Validate() error {
	n := r.Normalize()
	if n.PowerUnit == "" || n.ManifestDate == "" {
		return ErrInvalidResource
	}
	if len(n.ManifestDate) != ManifestDateLength {
		return ErrInvalidResource
	}
	return nil
}

func (r Resource) String() string {
	n := r.Normalize()
	return n.PowerUnit + "@" + n.ManifestDate
}
