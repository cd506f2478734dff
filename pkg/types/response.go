package types

// RequestIDHeader carries the per-request correlation id on requests and responses.
const RequestIDHeader = "X-Request-Id"

// SuccessEnvelope is the body of every 2xx JSON response: {"data": ...}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public face of a failed request. RequestID echoes the
// X-Request-Id header so a seller can quote it to support.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorEnvelope is the body of every 4xx/5xx JSON response: {"error": {...}}.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
