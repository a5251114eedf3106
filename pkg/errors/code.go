package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Auth & Token errors
// 12000-12999: Environment lifecycle errors
// 13000-13999: Container policy & hardening errors
// 14000-14999: Network isolation errors
// 15000-15999: Real-time session errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10302

	// ========== Auth & Token Errors (11000-11999) ==========

	InvalidCredentials ErrorCode = 11000
	TokenExpired       ErrorCode = 11001
	TokenInvalid       ErrorCode = 11002
	AccountSuspended   ErrorCode = 11003

	// ========== Environment Errors (12000-12999) ==========

	EnvironmentNotFound      ErrorCode = 12000
	EnvironmentCreateFailed  ErrorCode = 12001
	EnvironmentNotRunning    ErrorCode = 12002
	EnvironmentTeardownError ErrorCode = 12003
	EnvironmentQuotaExceeded ErrorCode = 12004

	// ========== Policy & Hardening Errors (13000-13999) ==========

	PolicyViolation     ErrorCode = 13000
	ImageNotAllowed     ErrorCode = 13001
	PrivilegedForbidden ErrorCode = 13002

	// ========== Network Isolation Errors (14000-14999) ==========

	NetworkProvisionFailed ErrorCode = 14000
	NetworkNotFound        ErrorCode = 14001

	// ========== Real-time Session Errors (15000-15999) ==========

	SessionNotFound       ErrorCode = 15000
	TerminalAttachFailed  ErrorCode = 15001
	ClientNotRegistered   ErrorCode = 15002
	BroadcastDeliveryFail ErrorCode = 15003
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError: "Cache operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Auth
	InvalidCredentials: "Invalid credentials",
	TokenExpired:       "Token has expired",
	TokenInvalid:       "Invalid token",
	AccountSuspended:   "Account has been suspended",

	// Environment
	EnvironmentNotFound:      "Environment not found",
	EnvironmentCreateFailed:  "Failed to create environment",
	EnvironmentNotRunning:    "Environment is not running",
	EnvironmentTeardownError: "Failed to tear down environment",
	EnvironmentQuotaExceeded: "Environment quota exceeded",

	// Policy
	PolicyViolation:     "Container spec violates security policy",
	ImageNotAllowed:     "Container image is not allowed",
	PrivilegedForbidden: "Privileged containers are forbidden",

	// Network
	NetworkProvisionFailed: "Failed to provision isolated network",
	NetworkNotFound:        "Isolated network not found",

	// Real-time
	SessionNotFound:       "Terminal session not found",
	TerminalAttachFailed:  "Failed to attach terminal session",
	ClientNotRegistered:   "Client connection is not registered",
	BroadcastDeliveryFail: "Failed to deliver broadcast message",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == InvalidCredentials, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c == AccountSuspended, c == PolicyViolation,
		c == ImageNotAllowed, c == PrivilegedForbidden:
		return 403
	case c == NotFound, c == EnvironmentNotFound, c == NetworkNotFound, c == SessionNotFound:
		return 404
	case c == TooManyRequests, c == EnvironmentQuotaExceeded:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
