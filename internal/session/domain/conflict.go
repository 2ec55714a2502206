package domain

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// ErrInvalidResource is returned when a powerunit/manifest-date pair is incomplete or malformed.
var ErrInvalidResource = errors.New("powerunit and an 8-character manifest date are required")

// ConflictType classifies a claim attempt against a resource held by another session row.
type ConflictType string

const (
	// ConflictNone means the caller already holds the resource with the same credentials.
	ConflictNone ConflictType = "none"
	// ConflictSameUser means the holder is the caller's own principal on another device/session.
	ConflictSameUser ConflictType = "same_user"
	// ConflictDifferentUser means the holder is another principal; the claim is denied outright.
	ConflictDifferentUser ConflictType = "different_user"
)

// Caller identifies who is attempting a claim. Token fields are digests, matching Session.
type Caller struct {
	Username         string
	AccessTokenHash  string
	RefreshTokenHash string
}

// ClassifyConflict applies the manifest-access conflict policy to the current holder of a resource.
func ClassifyConflict(holder *Session, caller Caller) ConflictType {
	if holder == nil {
		return ConflictNone
	}
	sameUser := strings.EqualFold(strings.TrimSpace(holder.Username), strings.TrimSpace(caller.Username))
	if sameUser && digestEqual(holder.AccessTokenHash, caller.AccessTokenHash) &&
		digestEqual(holder.RefreshTokenHash, caller.RefreshTokenHash) {
		return ConflictNone
	}
	if sameUser {
		return ConflictSameUser
	}
	return ConflictDifferentUser
}

func digestEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
