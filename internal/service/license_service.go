package service

import (
	"context"

	"github.com/stemsplit/api/internal/auth"
	"github.com/stemsplit/api/internal/telemetry"
)

// LicenseValidator checks a license key with the licensing provider
type LicenseValidator interface {
	Validate(ctx context.Context, key string) bool
}

// LicenseService turns valid license keys into session tokens
type LicenseService struct {
	validator LicenseValidator
	signer    *auth.SessionSigner
}

func NewLicenseService(validator LicenseValidator, signer *auth.SessionSigner) *LicenseService {
	return &LicenseService{
		validator: validator,
		signer:    signer,
	}
}

// Login validates key and issues a session token. An empty token with a nil
// error means the key was rejected.
func (s *LicenseService) Login(ctx context.Context, key string) (string, error) {
	if !s.validator.Validate(ctx, key) {
		telemetry.LicenseChecks.WithLabelValues("invalid").Inc()
		return "", nil
	}
	telemetry.LicenseChecks.WithLabelValues("valid").Inc()
	return s.signer.Issue(key)
}
