package middleware

import (
	"net/http"
	"strings"
	"time"

	"warehouse-service/backend/internal/session/service"
)

const (
	AccessCookie   = "access_token"
	RefreshCookie  = "refresh_token"
	UsernameCookie = "username"

	RefreshHeader = "X-Refresh-Token"
	bearerPrefix  = "bearer "
)

// Cookies writes the session cookies. Cookies are HttpOnly and SameSite=None so the browser client
// on another origin can send them; Secure is required by browsers for SameSite=None.
type Cookies struct {
	Domain string
	Secure bool
}

// Set writes access, refresh and username cookies expiring with their tokens.
func (c Cookies) Set(w http.ResponseWriter, p *service.TokenPair) {
	http.SetCookie(w, c.cookie(AccessCookie, p.AccessToken, p.AccessExpiresAt))
	http.SetCookie(w, c.cookie(RefreshCookie, p.RefreshToken, p.RefreshExpiresAt))
	http.SetCookie(w, c.cookie(UsernameCookie, p.Username, p.RefreshExpiresAt))
}

// Clear expires all session cookies.
func (c Cookies) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie, UsernameCookie} {
		ck := c.cookie(name, "", time.Unix(0, 0))
		ck.MaxAge = -1
		http.SetCookie(w, ck)
	}
}

func (c Cookies) cookie(name, value string, expires time.Time) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  expires.UTC(),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteNoneMode,
	}
	if d := time.Until(expires); d > 0 {
		ck.MaxAge = int(d.Seconds())
	}
	return ck
}

// Credentials is the token pair and claimed principal presented with a request.
type Credentials struct {
	Username string
	Access   string
	Refresh  string
}

// CredentialsFrom reads the pair from cookies, falling back to "Authorization: Bearer" and X-Refresh-Token.
func CredentialsFrom(r *http.Request) Credentials {
	var c Credentials
	if ck, err := r.Cookie(AccessCookie); err == nil {
		c.Access = ck.Value
	}
	if ck, err := r.Cookie(RefreshCookie); err == nil {
		c.Refresh = ck.Value
	}
	if ck, err := r.Cookie(UsernameCookie); err == nil {
		c.Username = strings.TrimSpace(ck.Value)
	}
	if c.Access == "" {
		c.Access = extractBearer(r.Header.Get("Authorization"))
	}
	if c.Refresh == "" {
		c.Refresh = strings.TrimSpace(r.Header.Get(RefreshHeader))
	}
	return c
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
