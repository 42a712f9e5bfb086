package store

import (
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/kx3-io/carbot/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.DB().Close() })
	return s
}

func TestUpsertUser(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertUser("U1", "a@b.com", "Alice"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	u, err := s.GetUser("U1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Email != "a@b.com" || u.Name != "Alice" {
		t.Errorf("unexpected user: %+v", u)
	}

	// Repeated registration updates mutable fields in place.
	if err := s.UpsertUser("U1", "new@b.com", ""); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	u, _ = s.GetUser("U1")
	if u.Email != "new@b.com" {
		t.Errorf("expected updated email, got %q", u.Email)
	}
	if u.Name != "Alice" {
		t.Errorf("empty name should not overwrite, got %q", u.Name)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser("ghost")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestOpenTicket(t *testing.T) {
	s := newTestStore(t)
	s.UpsertUser("U1", "a@b.com", "Alice")

	tk, err := s.OpenTicket("U1", "Financeiro", "Invoice", "Wrong amount on invoice 42", []protocol.Attachment{
		{Name: "invoice.pdf", URL: "https://files.example/invoice.pdf"},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if ok, _ := regexp.MatchString(`^CAR\d+$`, tk.Protocol); !ok {
		t.Errorf("protocol %q does not match CAR prefix pattern", tk.Protocol)
	}
	if tk.Status != protocol.TicketOpen {
		t.Errorf("expected open status, got %q", tk.Status)
	}

	got, err := s.GetTicket(tk.Protocol)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Department != "Financeiro" || got.Subject != "Invoice" {
		t.Errorf("unexpected ticket: %+v", got)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Name != "invoice.pdf" {
		t.Errorf("unexpected attachments: %v", got.Attachments)
	}
}

func TestOpenTicket_UnregisteredUser(t *testing.T) {
	s := newTestStore(t)

	_, err := s.OpenTicket("U2", "Financeiro", "Invoice", "...", nil)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	// Nothing may be persisted on failure.
	var count int
	s.DB().QueryRow(`SELECT COUNT(*) FROM tickets`).Scan(&count)
	if count != 0 {
		t.Errorf("expected no tickets, found %d", count)
	}
}

func TestOpenTicket_ConcurrentProtocolUniqueness(t *testing.T) {
	s := newTestStore(t)
	s.UpsertUser("U1", "a@b.com", "Alice")

	const n = 20
	var wg sync.WaitGroup
	protocols := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk, err := s.OpenTicket("U1", "Financeiro", "Load", "concurrent open", nil)
			if err != nil {
				t.Errorf("open: %v", err)
				return
			}
			protocols <- tk.Protocol
		}()
	}
	wg.Wait()
	close(protocols)

	seen := make(map[string]bool)
	for p := range protocols {
		if seen[p] {
			t.Fatalf("duplicate protocol %q", p)
		}
		seen[p] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d protocols, got %d", n, len(seen))
	}
}

func TestListOpenTickets(t *testing.T) {
	s := newTestStore(t)
	s.UpsertUser("U1", "a@b.com", "Alice")
	s.UpsertUser("U2", "c@d.com", "Bob")

	first, _ := s.OpenTicket("U1", "Financeiro", "First", "...", nil)
	time.Sleep(1100 * time.Millisecond) // opened_at has second resolution
	second, _ := s.OpenTicket("U1", "Comercial", "Second", "...", nil)
	other, _ := s.OpenTicket("U2", "Financeiro", "Other user", "...", nil)

	s.CloseTicket(first.Protocol)

	tickets, err := s.ListOpenTickets("U1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("expected 1 open ticket, got %d", len(tickets))
	}
	if tickets[0].Protocol != second.Protocol {
		t.Errorf("expected %q, got %q", second.Protocol, tickets[0].Protocol)
	}
	if tickets[0].Protocol == other.Protocol {
		t.Error("listed another user's ticket")
	}
}

func TestListOpenTickets_Ordering(t *testing.T) {
	s := newTestStore(t)
	s.UpsertUser("U1", "", "")

	older, _ := s.OpenTicket("U1", "TI - Tecnologia da Informação", "Older", "...", nil)
	time.Sleep(1100 * time.Millisecond)
	newer, _ := s.OpenTicket("U1", "TI - Tecnologia da Informação", "Newer", "...", nil)

	tickets, _ := s.ListOpenTickets("U1")
	if len(tickets) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(tickets))
	}
	if tickets[0].Protocol != newer.Protocol || tickets[1].Protocol != older.Protocol {
		t.Errorf("expected most recent first, got %q then %q", tickets[0].Protocol, tickets[1].Protocol)
	}
}

func TestListTickets_Filter(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertUser("U1", "a@b.com", "Alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertUser("U2", "b@b.com", "Bob"); err != nil {
		t.Fatal(err)
	}

	t1, err := s.OpenTicket("U1", "Financeiro", "s1", "d1", nil)
	if err != nil {
		t.Fatal(err)
	}
	t2, err := s.OpenTicket("U2", "Comercial", "s2", "d2", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CloseTicket(t2.Protocol); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListTickets(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(all))
	}

	open := protocol.TicketOpen
	onlyOpen, err := s.ListTickets(Filter{Status: &open})
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyOpen) != 1 || onlyOpen[0].Protocol != t1.Protocol {
		t.Errorf("status filter: %+v", onlyOpen)
	}

	byUser, err := s.ListTickets(Filter{ExternalID: "U2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byUser) != 1 || byUser[0].Protocol != t2.Protocol {
		t.Errorf("user filter: %+v", byUser)
	}

	limited, err := s.ListTickets(Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit: got %d", len(limited))
	}
}

func TestCloseTicket_Idempotent(t *testing.T) {
	s := newTestStore(t)
	s.UpsertUser("U1", "", "")
	tk, _ := s.OpenTicket("U1", "RH - Recursos Humanos", "Vacation", "...", nil)

	if err := s.CloseTicket(tk.Protocol); err != nil {
		t.Fatalf("close: %v", err)
	}
	closed, _ := s.GetTicket(tk.Protocol)
	if closed.Status != protocol.TicketClosed {
		t.Fatalf("expected closed, got %q", closed.Status)
	}
	if closed.ClosedAt == nil {
		t.Fatal("closed_at not stamped")
	}
	firstClosedAt := *closed.ClosedAt

	// Re-closing succeeds and closed_at keeps its first-set value.
	time.Sleep(1100 * time.Millisecond)
	if err := s.CloseTicket(tk.Protocol); err != nil {
		t.Fatalf("re-close: %v", err)
	}
	again, _ := s.GetTicket(tk.Protocol)
	if !again.ClosedAt.Equal(firstClosedAt) {
		t.Errorf("closed_at changed on re-close: %v vs %v", again.ClosedAt, firstClosedAt)
	}
}

func TestCloseTicket_UnknownProtocol(t *testing.T) {
	s := newTestStore(t)
	err := s.CloseTicket("CAR000000000")
	if !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestAppendReply(t *testing.T) {
	s := newTestStore(t)
	s.UpsertUser("U1", "", "")
	tk, _ := s.OpenTicket("U1", "Financeiro", "Invoice", "...", nil)

	err := s.AppendReply(protocol.Reply{
		Protocol: tk.Protocol,
		Body:     "Adding the missing attachment",
		SentAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("append reply: %v", err)
	}

	var count int
	s.DB().QueryRow(`SELECT COUNT(*) FROM ticket_replies WHERE protocol = ?`, tk.Protocol).Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 reply, got %d", count)
	}

	err = s.AppendReply(protocol.Reply{Protocol: "CAR999999999", Body: "nope", SentAt: time.Now()})
	if !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
}
