package gateway

// Auth failure reasons reported to the client and used as metric labels.
const (
	ReasonMissingToken = "missing token"
	ReasonInvalidToken = "invalid token"
)

// AuthError refuses a handshake before any handler attaches.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// Client-facing error messages.
const (
	errBanned          = "You are banned and cannot send messages."
	errRateLimited     = "Rate limit exceeded. Please wait before sending more messages."
	errBotRateLimited  = "Bot request limit reached. Please wait before asking again."
	errInvalidMessage  = "Invalid message"
	errProcessMessage  = "Error processing message"
	errBotResponse     = "Error processing bot response"
	errInitialMessages = "Failed to fetch initial messages"
	errDirectory       = "Failed to fetch bots and users"
	errUnknownEvent    = "Unknown event"
)
