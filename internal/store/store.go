package store

import (
	"errors"

	"github.com/kx3-io/carbot/pkg/protocol"
)

// ErrUserNotFound is returned when an operation references a chat identity
// that was never registered.
var ErrUserNotFound = errors.New("user not found")

// ErrTicketNotFound is returned when a lookup or close names an unknown protocol.
var ErrTicketNotFound = errors.New("ticket not found")

// Filter narrows an admin-side ticket listing.
type Filter struct {
	Status     *protocol.TicketStatus
	ExternalID string
	Limit      int
}

// Store is the persistence interface for users and tickets. It is the sole
// source of truth for ticket state; the spreadsheet mirror is advisory.
type Store interface {
	// UpsertUser creates a user or updates the mutable fields in place.
	UpsertUser(externalID, email, name string) error
	// GetUser retrieves a user by external identity.
	GetUser(externalID string) (*protocol.User, error)
	// OpenTicket creates a ticket with a freshly generated protocol.
	// Fails with ErrUserNotFound if the identity is unregistered.
	OpenTicket(externalID, department, subject, description string, attachments []protocol.Attachment) (*protocol.Ticket, error)
	// ListOpenTickets returns the user's non-closed tickets, most recent first.
	ListOpenTickets(externalID string) ([]*protocol.Ticket, error)
	// ListTickets returns tickets matching the filter, most recent first.
	ListTickets(filter Filter) ([]*protocol.Ticket, error)
	// GetTicket retrieves a ticket by protocol.
	GetTicket(protocol string) (*protocol.Ticket, error)
	// CloseTicket transitions a ticket to closed and stamps closed_at.
	// Closing an already-closed ticket succeeds and leaves closed_at unchanged;
	// an unknown protocol fails with ErrTicketNotFound.
	CloseTicket(protocol string) error
	// AppendReply records a follow-up on an existing ticket.
	AppendReply(reply protocol.Reply) error
}
