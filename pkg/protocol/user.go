package protocol

// User is a registered chat user, keyed by the stable identity the chat
// transport assigns (Telegram user ID, Slack user ID, ...).
type User struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Department maps a department name to its notification address.
type Department struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
