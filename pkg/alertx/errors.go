package alertx

import "github.com/Abraxas-365/jobrelay/pkg/errx"

var alertxErrors = errx.NewRegistry("ALERTX")

var (
	ErrSendFailed       = alertxErrors.Register("SEND_FAILED", errx.TypeExternal, 502, "Failed to send alert")
	ErrInvalidMessage   = alertxErrors.Register("INVALID_MESSAGE", errx.TypeValidation, 400, "Invalid alert message")
	ErrTemplateNotFound = alertxErrors.Register("TEMPLATE_NOT_FOUND", errx.TypeNotFound, 404, "Alert template not found")
	ErrTemplateParse    = alertxErrors.Register("TEMPLATE_PARSE", errx.TypeValidation, 400, "Failed to parse alert template")
	ErrTemplateRender   = alertxErrors.Register("TEMPLATE_RENDER", errx.TypeInternal, 500, "Failed to render alert template")
)

// WrapSendError reports a provider failure under ErrSendFailed.
func WrapSendError(cause error) *errx.Error {
	return alertxErrors.NewWithCause(ErrSendFailed, cause)
}
