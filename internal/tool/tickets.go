package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kx3-io/carbot/internal/mailer"
	"github.com/kx3-io/carbot/internal/sheets"
	"github.com/kx3-io/carbot/internal/store"
	"github.com/kx3-io/carbot/pkg/protocol"
)

// Departments is the slice of the department directory the tools need.
type Departments interface {
	List() []protocol.Department
	Lookup(name string) (protocol.Department, bool)
}

// RegisterUserTool upserts a chat user. Repeated registration updates the
// mutable fields in place; there is no failure mode besides storage errors.
type RegisterUserTool struct {
	Store store.Store
}

func (t *RegisterUserTool) Name() string { return "registerUser" }

func (t *RegisterUserTool) Execute(_ context.Context, args Args) (any, error) {
	externalID, err := args.String("external_id")
	if err != nil {
		return nil, err
	}
	email := args.StringOr("email", "")
	name := args.StringOr("name", "")

	if err := t.Store.UpsertUser(externalID, email, name); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "message": "Cadastro atualizado com sucesso!"}, nil
}

// OpenTicketTool creates a ticket in the store, then mirrors it to the
// spreadsheet and notifies the department. The store write is the only
// transactional boundary: mirror and mail failures are logged and swallowed.
type OpenTicketTool struct {
	Store       store.Store
	Mirror      sheets.Mirror
	Notifier    mailer.Notifier
	Departments Departments
	Logger      *slog.Logger
}

func (t *OpenTicketTool) Name() string { return "openTicket" }

func (t *OpenTicketTool) Execute(ctx context.Context, args Args) (any, error) {
	externalID, err := args.String("external_id")
	if err != nil {
		return nil, err
	}
	department, err := args.String("department")
	if err != nil {
		return nil, err
	}
	subject, err := args.String("subject")
	if err != nil {
		return nil, err
	}
	description, err := args.String("description")
	if err != nil {
		return nil, err
	}

	dept, ok := t.Departments.Lookup(department)
	if !ok {
		return nil, fmt.Errorf("departamento %q não existe", department)
	}

	ticket, err := t.Store.OpenTicket(externalID, department, subject, description, args.Attachments())
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, errors.New("Usuário não encontrado. Faça seu cadastro primeiro.")
		}
		return nil, err
	}

	owner, err := t.Store.GetUser(externalID)
	if err != nil {
		// The ticket exists; degrade to an ownerless snapshot.
		t.Logger.Warn("owner lookup failed after open", "protocol", ticket.Protocol, "error", err)
		owner = &protocol.User{ExternalID: externalID}
	}

	if err := t.Mirror.AppendTicketRow(ctx, sheets.TicketRow{
		Protocol:    ticket.Protocol,
		OpenedAt:    ticket.OpenedAt,
		UserName:    owner.Name,
		UserEmail:   owner.Email,
		Department:  ticket.Department,
		Subject:     ticket.Subject,
		Description: ticket.Description,
		Status:      ticket.Status,
		Attachments: ticket.Attachments,
	}); err != nil {
		t.Logger.Warn("sheet mirror append failed", "protocol", ticket.Protocol, "error", err)
	}

	if err := t.Notifier.NotifyDepartment(ctx, dept, ticket, owner); err != nil {
		t.Logger.Warn("department notification failed", "protocol", ticket.Protocol, "department", dept.Name, "error", err)
	}

	return map[string]any{
		"success":  true,
		"protocol": ticket.Protocol,
		"message": fmt.Sprintf(
			"Chamado criado com sucesso!\n\nProtocolo: %s\nDepartamento: %s\n\nVocê receberá atualizações por aqui quando houver resposta.",
			ticket.Protocol, ticket.Department),
	}, nil
}

// ListTicketsTool returns the user's open tickets, most recent first.
type ListTicketsTool struct {
	Store store.Store
}

func (t *ListTicketsTool) Name() string { return "listTickets" }

func (t *ListTicketsTool) Execute(_ context.Context, args Args) (any, error) {
	externalID, err := args.String("external_id")
	if err != nil {
		return nil, err
	}
	tickets, err := t.Store.ListOpenTickets(externalID)
	if err != nil {
		return nil, err
	}

	summaries := make([]map[string]any, 0, len(tickets))
	for _, tk := range tickets {
		summaries = append(summaries, map[string]any{
			"protocol":   tk.Protocol,
			"subject":    tk.Subject,
			"department": tk.Department,
			"status":     tk.Status,
			"opened_at":  tk.OpenedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{"tickets": summaries}, nil
}

// GetTicketDetailTool returns a full ticket by protocol.
type GetTicketDetailTool struct {
	Store store.Store
}

func (t *GetTicketDetailTool) Name() string { return "getTicketDetail" }

func (t *GetTicketDetailTool) Execute(_ context.Context, args Args) (any, error) {
	proto, err := args.String("protocol")
	if err != nil {
		return nil, err
	}
	ticket, err := t.Store.GetTicket(proto)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return nil, errors.New("Chamado não encontrado")
		}
		return nil, err
	}
	return map[string]any{"ticket": ticket}, nil
}

// CloseTicketTool transitions a ticket to closed and mirrors the new status
// to the spreadsheet. Re-closing an already-closed ticket succeeds.
type CloseTicketTool struct {
	Store  store.Store
	Mirror sheets.Mirror
	Logger *slog.Logger
}

func (t *CloseTicketTool) Name() string { return "closeTicket" }

func (t *CloseTicketTool) Execute(ctx context.Context, args Args) (any, error) {
	proto, err := args.String("protocol")
	if err != nil {
		return nil, err
	}
	if err := t.Store.CloseTicket(proto); err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return nil, errors.New("Chamado não encontrado")
		}
		return nil, err
	}

	if err := t.Mirror.UpdateStatusCell(ctx, proto, protocol.TicketClosed); err != nil {
		t.Logger.Warn("sheet mirror status update failed", "protocol", proto, "error", err)
	}

	return map[string]any{"success": true, "message": "Chamado finalizado com sucesso!"}, nil
}

// ReplyTicketTool records a follow-up on an existing ticket and forwards it
// to the owning department, best-effort.
type ReplyTicketTool struct {
	Store       store.Store
	Notifier    mailer.Notifier
	Departments Departments
	Logger      *slog.Logger
}

func (t *ReplyTicketTool) Name() string { return "replyTicket" }

func (t *ReplyTicketTool) Execute(ctx context.Context, args Args) (any, error) {
	proto, err := args.String("protocol")
	if err != nil {
		return nil, err
	}
	body, err := args.String("body")
	if err != nil {
		return nil, err
	}

	reply := protocol.Reply{
		Protocol:    proto,
		Body:        body,
		Attachments: args.Attachments(),
		SentAt:      time.Now(),
	}
	if err := t.Store.AppendReply(reply); err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return nil, errors.New("Chamado não encontrado")
		}
		return nil, err
	}

	ticket, err := t.Store.GetTicket(proto)
	if err == nil {
		if dept, ok := t.Departments.Lookup(ticket.Department); ok {
			if err := t.Notifier.NotifyReply(ctx, dept, ticket, reply); err != nil {
				t.Logger.Warn("reply notification failed", "protocol", proto, "error", err)
			}
		}
	}

	return map[string]any{
		"success": true,
		"message": "Complemento adicionado ao chamado. O departamento será notificado.",
	}, nil
}
