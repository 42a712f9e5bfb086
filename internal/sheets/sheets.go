// Package sheets mirrors ticket data into a Google spreadsheet for human
// visibility. The spreadsheet is never a source of truth: every operation
// here is best-effort and callers swallow failures after logging them.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kx3-io/carbot/pkg/protocol"
)

// Row layout, one ticket per row (columns A..I):
// protocol, timestamp, user name, user email, department, subject,
// description, status, attachment links joined by comma.
const (
	appendRange  = "A:I"
	scanRange    = "A:A" // protocol column
	statusColumn = "H"
)

// TicketRow is the snapshot of a ticket written to the spreadsheet.
type TicketRow struct {
	Protocol    string
	OpenedAt    time.Time
	UserName    string
	UserEmail   string
	Department  string
	Subject     string
	Description string
	Status      protocol.TicketStatus
	Attachments []protocol.Attachment
}

// Mirror is the secondary-replica interface. It hides the row lookup
// strategy so a scan can later become an index without touching callers.
type Mirror interface {
	AppendTicketRow(ctx context.Context, row TicketRow) error
	UpdateStatusCell(ctx context.Context, ticketProtocol string, status protocol.TicketStatus) error
}

// Client talks to the Google Sheets values API.
type Client struct {
	client        *http.Client
	baseURL       string
	spreadsheetID string
	token         string
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom API base URL (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

// NewClient creates a Sheets API client for one spreadsheet.
func NewClient(spreadsheetID, token string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		client:        &http.Client{Timeout: 30 * time.Second},
		baseURL:       "https://sheets.googleapis.com/v4",
		spreadsheetID: spreadsheetID,
		token:         token,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AppendTicketRow appends one ticket snapshot to the sheet.
func (c *Client) AppendTicketRow(ctx context.Context, row TicketRow) error {
	links := make([]string, 0, len(row.Attachments))
	for _, a := range row.Attachments {
		links = append(links, a.URL)
	}

	values := [][]string{{
		row.Protocol,
		row.OpenedAt.Format("02/01/2006 15:04:05"),
		orNA(row.UserName),
		orNA(row.UserEmail),
		row.Department,
		row.Subject,
		row.Description,
		string(row.Status),
		strings.Join(links, ", "),
	}}

	path := fmt.Sprintf("/spreadsheets/%s/values/%s:append?valueInputOption=RAW",
		c.spreadsheetID, url.PathEscape(appendRange))
	if err := c.do(ctx, http.MethodPost, path, valueRange{Values: values}, nil); err != nil {
		return fmt.Errorf("sheets: append row: %w", err)
	}
	return nil
}

// UpdateStatusCell finds the ticket's row by scanning the protocol column
// and overwrites its status cell. A missing protocol is a logged no-op.
func (c *Client) UpdateStatusCell(ctx context.Context, ticketProtocol string, status protocol.TicketStatus) error {
	rows, err := c.Values(ctx, scanRange)
	if err != nil {
		return fmt.Errorf("sheets: scan protocol column: %w", err)
	}

	rowIndex := -1
	// Row 0 is the header.
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) > 0 && rows[i][0] == ticketProtocol {
			rowIndex = i
			break
		}
	}
	if rowIndex < 0 {
		c.logger.Warn("protocol not found in sheet, status not mirrored", "protocol", ticketProtocol)
		return nil
	}

	// Sheets ranges are 1-based.
	cell := fmt.Sprintf("%s%d", statusColumn, rowIndex+1)
	path := fmt.Sprintf("/spreadsheets/%s/values/%s?valueInputOption=RAW",
		c.spreadsheetID, url.PathEscape(cell))
	body := valueRange{Values: [][]string{{string(status)}}}
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("sheets: update status cell: %w", err)
	}
	return nil
}

// Values reads a value range from the spreadsheet. Also used by the
// department directory's sheet-backed source.
func (c *Client) Values(ctx context.Context, rng string) ([][]string, error) {
	path := fmt.Sprintf("/spreadsheets/%s/values/%s", c.spreadsheetID, url.PathEscape(rng))
	var out valueRange
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("sheets: get values: %w", err)
	}
	return out.Values, nil
}

// --- Sheets wire format ---

type valueRange struct {
	Values [][]string `json:"values"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
