package dispatch

import "fmt"

// Code classifies a dispatch failure. Callers branch on the code; the
// HTTP layer maps StatusCode straight onto the response.
type Code string

const (
	CodeInternal    Code = "internal"
	CodeNotFound    Code = "not_found"
	CodeUnavailable Code = "unavailable"
	CodeSendFailed  Code = "send_failed"
)

// Details carries the diagnostic payload attached to NotFound errors so an
// operator can see which devices the registry actually knows about.
type Details struct {
	ActiveConnections int      `json:"activeConnections"`
	ActiveDevices     []string `json:"activeDevices"`
}

// Error is a classified dispatch failure
type Error struct {
	Code       Code     `json:"code"`
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	DeviceID   string   `json:"deviceId,omitempty"`
	Details    *Details `json:"details,omitempty"`
	cause      error
}

func (e *Error) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("dispatch to %s: %s", e.DeviceID, e.Message)
	}
	return "dispatch: " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func internalError(deviceID, message string, cause error) *Error {
	return &Error{Code: CodeInternal, StatusCode: 500, Message: message, DeviceID: deviceID, cause: cause}
}

func notFoundError(deviceID string, details *Details) *Error {
	return &Error{
		Code:       CodeNotFound,
		StatusCode: 404,
		Message:    fmt.Sprintf("device %q is not connected", deviceID),
		DeviceID:   deviceID,
		Details:    details,
	}
}

func unavailableError(deviceID string) *Error {
	return &Error{
		Code:       CodeUnavailable,
		StatusCode: 503,
		Message:    fmt.Sprintf("device %q has a connection that is not ready", deviceID),
		DeviceID:   deviceID,
	}
}

func sendFailedError(deviceID string, cause error) *Error {
	return &Error{
		Code:       CodeSendFailed,
		StatusCode: 500,
		Message:    fmt.Sprintf("transport write to %q failed: %v", deviceID, cause),
		DeviceID:   deviceID,
		cause:      cause,
	}
}
