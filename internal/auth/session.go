package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "splitter-backend"

// ErrSessionExpired is returned when the session outlived its embedded expiry.
var ErrSessionExpired = errors.New("session expired")

// SessionClaims is the payload carried by the session cookie
type SessionClaims struct {
	Hash    string `json:"hash"`
	Expires int64  `json:"expires"`
	jwt.RegisteredClaims
}

// SessionSigner issues and verifies HMAC-signed, timestamped session tokens
type SessionSigner struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewSessionSigner(secret string, expiryHours int) *SessionSigner {
	return &SessionSigner{
		secret: []byte(secret),
		maxAge: time.Duration(expiryHours) * time.Hour,
		now:    time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *SessionSigner) WithClock(now func() time.Time) *SessionSigner {
	s.now = now
	return s
}

// MaxAge is how long an issued session stays valid.
func (s *SessionSigner) MaxAge() time.Duration {
	return s.maxAge
}

// LicenseHash derives the value stored in the session instead of the raw key.
func LicenseHash(key, secret string) string {
	salt := secret
	if len(salt) > 16 {
		salt = salt[:16]
	}
	sum := sha256.Sum256([]byte(key + salt))
	return hex.EncodeToString(sum[:])
}

// Issue creates a session token for a validated license key
func (s *SessionSigner) Issue(licenseKey string) (string, error) {
	now := s.now()
	expires := now.Add(s.maxAge)

	claims := SessionClaims{
		Hash:    LicenseHash(licenseKey, string(s.secret)),
		Expires: expires.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the token signature, its age and the embedded expiry
func (s *SessionSigner) Verify(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(sessionIssuer), jwt.WithIssuedAt())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	now := s.now()
	if claims.IssuedAt == nil || now.Sub(claims.IssuedAt.Time) > s.maxAge {
		return nil, ErrSessionExpired
	}
	if claims.Expires <= now.Unix() {
		return nil, ErrSessionExpired
	}
	if claims.Hash == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
