package errors

// Failure kinds surfaced by the card pipeline. Callers branch on these codes to
// decide between retrying, refreshing the session, or showing the failure.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnauthenticated    = "unauthenticated"
	CodeWeatherUnavailable = "weather_unavailable"
	CodeTransport          = "transport_error"
	CodeServiceUnavailable = "service_unavailable"
	CodeRequestRejected    = "request_rejected"
	CodeMalformedResponse  = "malformed_response"
	CodeNotFound           = "not_found"
	CodeInternal           = "internal"
)

// Retryable reports whether err is a transient failure that may succeed when
// repeated unchanged.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeWeatherUnavailable, CodeTransport, CodeServiceUnavailable:
		return true
	default:
		return false
	}
}
