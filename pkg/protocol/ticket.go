package protocol

import "time"

// TicketStatus represents the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// Attachment is a file the user sent along with a ticket, resolved by the
// chat transport into a name and a direct download URL.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Ticket is a support request opened by a user. The protocol is the unique,
// human-readable identifier assigned at creation; it never changes.
type Ticket struct {
	Protocol    string       `json:"protocol"`
	UserID      string       `json:"user_id"` // external chat identity of the owner
	Department  string       `json:"department"`
	Subject     string       `json:"subject"`
	Description string       `json:"description"`
	Attachments []Attachment `json:"attachments"`
	Status      TicketStatus `json:"status"`
	OpenedAt    time.Time    `json:"opened_at"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
}

// Reply is a follow-up message the user added to an existing ticket.
type Reply struct {
	Protocol    string       `json:"protocol"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	SentAt      time.Time    `json:"sent_at"`
}
