package model

// ValidateLicenseRequest carries the license key to check
type ValidateLicenseRequest struct {
	LicenseKey string `json:"license_key" form:"license_key" validate:"required"`
}

// LicenseResponse is returned by license validation and logout
type LicenseResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
