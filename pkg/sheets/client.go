// Package sheets appends audit rows to a Google Sheet using a service
// account.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// Config holds the service-account credentials and sheet target. Empty
// credentials produce a disabled client whose appends are no-ops.
type Config struct {
	SpreadsheetID string
	SheetName     string
	ClientEmail   string
	PrivateKey    string
}

// Row is one audit-log entry, matching the spreadsheet column order:
// First Name, Last Name, Phone, Job Title, Company, City, State, Zip,
// Contact ID, Validation Status, Validation Notes.
type Row struct {
	FirstName        string
	LastName         string
	Phone            string
	JobTitle         string
	Company          string
	City             string
	State            string
	Zip              string
	ContactID        string
	ValidationStatus string
	ValidationNotes  string
}

// Client appends rows to the audit sheet.
type Client interface {
	Enabled() bool
	AppendRow(ctx context.Context, row Row) error
}

// ClientOption configures the sheets client.
type ClientOption func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient replaces the OAuth-wrapped HTTP client (for testing).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	cfg     Config
	baseURL string
	http    *http.Client
}

// NewClient creates a sheets client. The private key may carry literal
// \n sequences from env-var transport; they are normalized here.
func NewClient(ctx context.Context, cfg Config, opts ...ClientOption) Client {
	cfg.PrivateKey = normalizeKey(cfg.PrivateKey)
	if cfg.SheetName == "" {
		cfg.SheetName = "Contact"
	}

	c := &httpClient{
		cfg:     cfg,
		baseURL: "https://sheets.googleapis.com",
	}
	if c.enabled() {
		jwtCfg := &jwt.Config{
			Email:      cfg.ClientEmail,
			PrivateKey: []byte(cfg.PrivateKey),
			Scopes:     []string{"https://www.googleapis.com/auth/spreadsheets"},
			TokenURL:   google.JWTTokenURL,
		}
		c.http = jwtCfg.Client(ctx)
		c.http.Timeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func normalizeKey(key string) string {
	key = strings.Trim(key, `"'`)
	return strings.ReplaceAll(key, `\n`, "\n")
}

func (c *httpClient) enabled() bool {
	return c.cfg.SpreadsheetID != "" && c.cfg.ClientEmail != "" && c.cfg.PrivateKey != ""
}

func (c *httpClient) Enabled() bool {
	return c.enabled()
}

func (c *httpClient) AppendRow(ctx context.Context, row Row) error {
	if !c.Enabled() {
		return nil
	}

	payload := map[string]any{
		"values": [][]string{{
			row.FirstName, row.LastName, row.Phone, row.JobTitle, row.Company,
			row.City, row.State, row.Zip, row.ContactID,
			row.ValidationStatus, row.ValidationNotes,
		}},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "sheets: marshal row")
	}

	endpoint := c.baseURL + "/v4/spreadsheets/" + url.PathEscape(c.cfg.SpreadsheetID) +
		"/values/" + url.PathEscape(c.cfg.SheetName) +
		":append?valueInputOption=USER_ENTERED&insertDataOption=INSERT_ROWS"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "sheets: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "sheets: append request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return eris.Errorf("sheets: append: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
