package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Identity errors
	ErrAuth               = fmt.Errorf("authentication failed")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrNotAuthenticated   = fmt.Errorf("not authenticated")
	ErrTokenExpired       = fmt.Errorf("access token expired")
	ErrNoRefreshToken     = fmt.Errorf("no refresh token available")
	ErrProfileWrite       = fmt.Errorf("failed to save user profile")

	// Workflow errors
	ErrValidation     = fmt.Errorf("validation failed")
	ErrPrecondition   = fmt.Errorf("please log in and select a package first")
	ErrInvalidVoucher = fmt.Errorf("invalid or inactive voucher code")
	ErrSessionCreate  = fmt.Errorf("failed to create session")
	ErrUpload         = fmt.Errorf("recording upload failed")
	ErrPersist        = fmt.Errorf("failed to save record")
	ErrNotFound       = fmt.Errorf("record not found")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrConflict           = fmt.Errorf("resource already exists")

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
