package authx

import "github.com/Abraxas-365/jobrelay/pkg/errx"

var authxErrors = errx.NewRegistry("AUTHX")

var (
	ErrUnauthorized     = authxErrors.Register("UNAUTHORIZED", errx.TypeAuthorization, 401, "Authentication required")
	ErrInvalidToken     = authxErrors.Register("INVALID_TOKEN", errx.TypeAuthorization, 401, "Invalid or expired token")
	ErrMissingScope     = authxErrors.Register("MISSING_SCOPE", errx.TypeAuthorization, 403, "Token lacks the required scope")
	ErrTokenGeneration  = authxErrors.Register("TOKEN_GENERATION", errx.TypeInternal, 500, "Failed to sign token")
	ErrSecretNotDefined = authxErrors.Register("SECRET_NOT_DEFINED", errx.TypeInternal, 500, "Token secret is not configured")
)
