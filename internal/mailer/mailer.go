// Package mailer sends department-facing notification emails. Sending is
// best-effort: callers log failures and move on, because by the time a
// notification fires the ticket is already committed to the store.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/kx3-io/carbot/pkg/protocol"
)

// Notifier is the outbound notification interface.
type Notifier interface {
	// NotifyDepartment announces a freshly opened ticket.
	NotifyDepartment(ctx context.Context, dept protocol.Department, ticket *protocol.Ticket, owner *protocol.User) error
	// NotifyReply forwards a user follow-up on an existing ticket.
	NotifyReply(ctx context.Context, dept protocol.Department, ticket *protocol.Ticket, reply protocol.Reply) error
}

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPNotifier implements Notifier over plain SMTP with HTML bodies.
type SMTPNotifier struct {
	cfg  Config
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New creates an SMTP notifier.
func New(cfg Config) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

func (n *SMTPNotifier) NotifyDepartment(_ context.Context, dept protocol.Department, ticket *protocol.Ticket, owner *protocol.User) error {
	subject := fmt.Sprintf("[%s] %s", ticket.Protocol, ticket.Subject)
	html := renderTicketEmail(ticket, owner)
	return n.sendMail([]string{dept.Email}, subject, html)
}

func (n *SMTPNotifier) NotifyReply(_ context.Context, dept protocol.Department, ticket *protocol.Ticket, reply protocol.Reply) error {
	subject := fmt.Sprintf("[%s] Complemento: %s", ticket.Protocol, ticket.Subject)
	html := renderReplyEmail(ticket, reply)
	return n.sendMail([]string{dept.Email}, subject, html)
}

func (n *SMTPNotifier) sendMail(to []string, subject, html string) error {
	var msg strings.Builder
	msg.WriteString("MIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n")
	fmt.Fprintf(&msg, "From: CAR <%s>\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ","))
	fmt.Fprintf(&msg, "Subject: %s\r\n\r\n", subject)
	msg.WriteString(html)

	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	addr := n.cfg.Host + ":" + n.cfg.Port
	if err := n.send(addr, auth, n.cfg.From, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("mailer: send to %v: %w", to, err)
	}
	return nil
}

func renderTicketEmail(ticket *protocol.Ticket, owner *protocol.User) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Novo Chamado - Protocolo: %s</h2>", ticket.Protocol)
	if owner != nil && owner.Email != "" {
		fmt.Fprintf(&b, "<p><strong>De:</strong> %s</p>", owner.Email)
	}
	fmt.Fprintf(&b, "<p><strong>Departamento:</strong> %s</p>", ticket.Department)
	fmt.Fprintf(&b, "<p><strong>Assunto:</strong> %s</p>", ticket.Subject)
	b.WriteString("<p><strong>Descrição:</strong></p>")
	fmt.Fprintf(&b, "<p>%s</p>", strings.ReplaceAll(ticket.Description, "\n", "<br>"))
	writeAttachmentList(&b, ticket.Attachments)
	b.WriteString("<hr><p><em>Para responder, reply este email. O usuário será notificado automaticamente.</em></p>")
	return b.String()
}

func renderReplyEmail(ticket *protocol.Ticket, reply protocol.Reply) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Complemento ao Chamado %s</h2>", ticket.Protocol)
	fmt.Fprintf(&b, "<p><strong>Assunto original:</strong> %s</p>", ticket.Subject)
	fmt.Fprintf(&b, "<p>%s</p>", strings.ReplaceAll(reply.Body, "\n", "<br>"))
	writeAttachmentList(&b, reply.Attachments)
	return b.String()
}

func writeAttachmentList(b *strings.Builder, attachments []protocol.Attachment) {
	if len(attachments) == 0 {
		return
	}
	b.WriteString("<p><strong>Anexos:</strong></p><ul>")
	for _, a := range attachments {
		fmt.Fprintf(b, `<li><a href="%s">%s</a></li>`, a.URL, a.Name)
	}
	b.WriteString("</ul>")
}
