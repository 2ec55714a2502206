package domain

import (
	"errors"
	"strings"
	"time"
)

// Driver is a principal allowed to log in and work manifests.
type Driver struct {
	Username     string
	PasswordHash string
	PowerUnit    string // default powerunit assigned to the driver; optional
	Active       bool
	CreatedAt    time.Time
}

// NormalizeUsername trims surrounding whitespace. Usernames keep their case; lookups are case-insensitive.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// Validate validates the driver for persistence. Returns an error describing the first validation failure.
func (d *Driver) Validate() error {
	if NormalizeUsername(d.Username) == "" {
		return errors.New("username is required")
	}
	if d.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
