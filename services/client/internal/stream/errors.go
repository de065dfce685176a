package stream

import "strings"

// User-facing replacements for provider failures. Raw transport or provider
// error text is never shown verbatim; it is mapped onto this closed set.
const (
	userMsgSafety    = "That request was declined by the content filter. Try rephrasing your question."
	userMsgNetwork   = "Connection problem while generating the response. Please try again."
	userMsgGeneric   = "Error generating response. Please try again."
	userMsgCancelled = "cancelled"
)

// userFacingError maps a raw provider/transport error message onto the fixed
// category set.
func userFacingError(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "safety") || strings.Contains(lower, "blocked") || strings.Contains(lower, "content filter"):
		return userMsgSafety
	case strings.Contains(lower, "connection") || strings.Contains(lower, "timeout") || strings.Contains(lower, "network") || strings.Contains(lower, "unreachable"):
		return userMsgNetwork
	default:
		return userMsgGeneric
	}
}
