package notifx

import "github.com/Abraxas-365/jobrelay/pkg/errx"

var notifxErrors = errx.NewRegistry("NOTIFX")

var (
	ErrHubClosed      = notifxErrors.Register("HUB_CLOSED", errx.TypeUnavailable, 503, "Notification hub is not running")
	ErrInvalidMessage = notifxErrors.Register("INVALID_MESSAGE", errx.TypeInternal, 500, "Failed to encode notification")
	ErrUpgradeLimited = notifxErrors.Register("UPGRADE_LIMITED", errx.TypeRateLimit, 429, "Too many websocket upgrades")
	ErrUpgradeNeeded  = notifxErrors.Register("UPGRADE_REQUIRED", errx.TypeValidation, 426, "Websocket upgrade required")
)

// NewError builds an error from one of this package's codes, for transports.
func NewError(code *errx.ErrorCode) *errx.Error {
	return notifxErrors.New(code)
}
