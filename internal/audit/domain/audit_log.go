package domain

import "time"

// AuditLog represents an audit event on a driver session.
type AuditLog struct {
	ID        string
	Username  string
	SessionID int64
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// Audit actions recorded by the session subsystem.
const (
	ActionLogin         = "login"
	ActionLoginFailure  = "login_failure"
	ActionLogout        = "logout"
	ActionRefresh       = "token_refresh"
	ActionClaim         = "manifest_claim"
	ActionConflict      = "manifest_conflict"
	ActionRelease       = "manifest_release"
	ActionDeleteSession = "session_delete"
	ActionTakeover      = "manifest_takeover"
	ActionSweep         = "session_sweep"
)

// Audit resources.
const (
	ResourceSession  = "session"
	ResourceManifest = "manifest"
)
