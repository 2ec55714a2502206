package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed, or fails issuer/audience/type checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a token is otherwise valid but past its exp.
	ErrTokenExpired = errors.New("token expired")
)

// TokenType distinguishes access from refresh tokens so one cannot stand in for the other.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// SessionClaims holds JWT claims for both token types.
type SessionClaims struct {
	jwt.RegisteredClaims
	Name      string    `json:"name"`
	SessionID int64     `json:"session_id"`
	Type      TokenType `json:"typ"`
}

// Token is a verified token's identity.
type Token struct {
	ID        string
	Username  string
	SessionID int64
	ExpiresAt time.Time
}

// TokenProvider issues and validates JWT access and refresh tokens using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audiences  []string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and every audience are set on issued claims; validation requires the issuer and
// at least one of the audiences.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer string, audiences []string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audiences:  slices.Clone(audiences),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock returns a copy of p that reads the current time from now. Used by tests.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	c := *p
	c.now = now
	return &c
}

// AccessTTL is the lifetime of issued access tokens.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL is the lifetime of issued refresh tokens.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access JWT naming username and sessionID.
func (p *TokenProvider) IssueAccess(username string, sessionID int64) (token string, expiresAt time.Time, err error) {
	return p.issue(TokenTypeAccess, username, sessionID, p.accessTTL)
}

// IssueRefresh issues a long-lived refresh JWT naming username and sessionID.
func (p *TokenProvider) IssueRefresh(username string, sessionID int64) (token string, expiresAt time.Time, err error) {
	return p.issue(TokenTypeRefresh, username, sessionID, p.refreshTTL)
}

func (p *TokenProvider) issue(typ TokenType, username string, sessionID int64, ttl time.Duration) (string, time.Time, error) {
	now := p.now().UTC()
	expiresAt := now.Add(ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings(p.audiences),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name:      username,
		SessionID: sessionID,
		Type:      typ,
	}
	token, err := p.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// ValidateAccess parses and validates an access token (signature, exp, iss, aud, typ).
// Returns ErrTokenExpired for an expired but otherwise valid token, ErrInvalidToken for anything else.
func (p *TokenProvider) ValidateAccess(tokenString string) (*Token, error) {
	return p.validate(tokenString, TokenTypeAccess)
}

// ValidateRefresh parses and validates a refresh token (signature, exp, iss, aud, typ).
func (p *TokenProvider) ValidateRefresh(tokenString string) (*Token, error) {
	return p.validate(tokenString, TokenTypeRefresh)
}

func (p *TokenProvider) validate(tokenString string, want TokenType) (*Token, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrInvalidToken
	}
	token, err := p.parse(tokenString, jwt.WithExpirationRequired(), jwt.WithTimeFunc(p.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && p.expiredButGenuine(tokenString, want) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || !p.claimsMatch(claims, want) {
		return nil, ErrInvalidToken
	}
	return &Token{
		ID:        claims.ID,
		Username:  claims.Subject,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

func (p *TokenProvider) parse(tokenString string, opts ...jwt.ParserOption) (*jwt.Token, error) {
	opts = append(opts, jwt.WithValidMethods([]string{"RS256", "ES256"}))
	return jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	}, opts...)
}

// expiredButGenuine re-parses without time checks so only a correctly signed token of the
// wanted type is reported as expired rather than invalid.
func (p *TokenProvider) expiredButGenuine(tokenString string, want TokenType) bool {
	token, err := p.parse(tokenString, jwt.WithoutClaimsValidation())
	return err == nil && p.claimsMatch(token.Claims, want)
}

func (p *TokenProvider) claimsMatch(c jwt.Claims, want TokenType) bool {
	claims, ok := c.(*SessionClaims)
	if !ok || claims.Type != want || claims.Issuer != p.issuer || claims.Subject == "" {
		return false
	}
	for _, a := range claims.Audience {
		if slices.Contains(p.audiences, a) {
			return true
		}
	}
	return false
}
