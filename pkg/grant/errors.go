package grant

import "errors"

// Domain-level error values returned by the grant service.
var (
	ErrInvalidToken         = errors.New("invalid download token")
	ErrGrantNotFound        = errors.New("grant not found")
	ErrGrantRevoked         = errors.New("grant revoked")
	ErrGrantExpired         = errors.New("grant expired")
	ErrDownloadsExhausted   = errors.New("downloads exhausted")
	ErrGrantConflict        = errors.New("grant state changed concurrently")
	ErrInvalidStatus        = errors.New("invalid grant status")
	ErrInvalidIssueInput    = errors.New("invalid grant issue input")
	ErrInvalidSignerConfig  = errors.New("invalid token signer config")
	ErrInvalidServiceConfig = errors.New("invalid grant service config")
)
