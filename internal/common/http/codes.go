package http

const (
	CodeUnknown              = "UNKNOWN"
	CodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	CodeInvalidJSON          = "INVALID_JSON"
	CodeBadRequest           = "BAD_REQUEST"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeMissingRefreshToken  = "MISSING_REFRESH_TOKEN"
	CodeMissingAuthorization = "MISSING_AUTHORIZATION"
	CodeInvalidToken         = "INVALID_TOKEN"
)
