// Package model defines the data types shared across the rank pipeline:
// scan requests and responses, classified results, page and aggregate ranks,
// and persisted run records.
package model

// ErrorKind categorizes a scan failure. Kinds drive retry decisions and are
// part of the wire contract, so values are stable strings.
type ErrorKind string

const (
	ErrInvalidInput         ErrorKind = "invalid_input"
	ErrBotBlocked           ErrorKind = "bot_blocked"
	ErrTimeout              ErrorKind = "timeout"
	ErrParseFailed          ErrorKind = "parse_failed"
	ErrTargetNotFound       ErrorKind = "target_not_found"
	ErrRendererLaunchFailed ErrorKind = "renderer_launch_failed"
	ErrUnknown              ErrorKind = "unknown"
)

// ErrorInfo is the structured error surfaced to callers. Exactly one
// taxonomy code plus a human-readable message.
type ErrorInfo struct {
	Code    ErrorKind `json:"code"`
	Message string    `json:"message"`
}

// Request describes one rank check: which identifier to locate, under which
// search keyword, and which rank families the caller cares about.
type Request struct {
	Identifier     string `json:"identifier"`
	Keyword        string `json:"keyword"`
	CheckOrganic   bool   `json:"check_organic"`
	CheckPromoted  bool   `json:"check_promoted"`
	EnableLocation bool   `json:"enable_location"`
	LocationHint   string `json:"location_hint,omitempty"`
}

// Response is the single response shape: either Data (success, ranks
// possibly nil) or Error is set, never both, never neither.
type Response struct {
	Success bool        `json:"success"`
	Data    *RankResult `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// OK wraps a rank result in a success response.
func OK(data *RankResult) Response {
	return Response{Success: true, Data: data}
}

// Fail builds an error response from a taxonomy code and message.
func Fail(code ErrorKind, message string) Response {
	return Response{Success: false, Error: &ErrorInfo{Code: code, Message: message}}
}
