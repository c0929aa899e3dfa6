// Package hubspot provides bearer-token REST access to the HubSpot CRM v3 API.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// EnrichedProperty is the contact property that marks an enrichment
// attempt as done.
const EnrichedProperty = "zoominfo_enriched"

// DefaultProperties are fetched for every contact read. They cover the
// matching key, every field the enrichment diff can fill, and the
// enriched marker.
var DefaultProperties = []string{
	"email",
	"firstname",
	"lastname",
	"phone",
	"mobilephone",
	"jobtitle",
	"company",
	"city",
	"state",
	"zip",
	"country",
	EnrichedProperty,
	"lifecyclestage",
}

// Client defines the HubSpot operations used by the enrichment pipeline.
type Client interface {
	// ListMemberships returns one page of contact ids from a list.
	ListMemberships(ctx context.Context, listID string, limit int, after string) (*MembershipPage, error)
	// BatchGetContacts reads up to 100 contacts with the default property set.
	BatchGetContacts(ctx context.Context, ids []string) ([]Contact, error)
	// UpdateContact patches contact properties.
	UpdateContact(ctx context.Context, id string, properties map[string]string) error
	// ListStats counts enrichment progress across an entire list.
	ListStats(ctx context.Context, listID string) (*ListStats, error)
}

// MembershipPage is one page of list membership ids.
type MembershipPage struct {
	ContactIDs []string
	NextAfter  string
}

// Contact is a CRM contact with its property bag.
type Contact struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// Property returns the trimmed value of a property, or "" if absent.
func (c Contact) Property(name string) string {
	return strings.TrimSpace(c.Properties[name])
}

// Enriched reports whether the contact carries the enriched marker.
func (c Contact) Enriched() bool {
	return c.Property(EnrichedProperty) == "true"
}

// ListStats is a full-list enrichment progress count.
type ListStats struct {
	TotalCount      int
	EnrichedCount   int
	UnenrichedCount int
	NoEmailCount    int
}

// ClientOption configures the HubSpot client.
type ClientOption func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second rate limit for HubSpot API calls.
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	accessToken string
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
}

// NewClient creates a HubSpot client authenticated with a private-app
// access token.
func NewClient(accessToken string, opts ...ClientOption) Client {
	c := &httpClient{
		accessToken: accessToken,
		baseURL:     "https://api.hubapi.com",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(9, 9), // private-app burst limit is ~10 req/s
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) do(ctx context.Context, method, path string, payload, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "hubspot: rate limiter wait")
		}
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "hubspot: marshal request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "hubspot: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "hubspot: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "hubspot: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eris.Errorf("hubspot: %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "hubspot: unmarshal response")
		}
	}
	return nil
}

type membershipResponse struct {
	Results []struct {
		RecordID string `json:"recordId"`
	} `json:"results"`
	Paging *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (c *httpClient) ListMemberships(ctx context.Context, listID string, limit int, after string) (*MembershipPage, error) {
	path := fmt.Sprintf("/crm/v3/lists/%s/memberships?limit=%d", url.PathEscape(listID), limit)
	if after != "" {
		path += "&after=" + url.QueryEscape(after)
	}

	var resp membershipResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "hubspot: list %s memberships", listID)
	}

	page := &MembershipPage{}
	for _, r := range resp.Results {
		page.ContactIDs = append(page.ContactIDs, r.RecordID)
	}
	if resp.Paging != nil && resp.Paging.Next != nil {
		page.NextAfter = resp.Paging.Next.After
	}
	return page, nil
}

func (c *httpClient) BatchGetContacts(ctx context.Context, ids []string) ([]Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	type input struct {
		ID string `json:"id"`
	}
	inputs := make([]input, len(ids))
	for i, id := range ids {
		inputs[i] = input{ID: id}
	}

	payload := map[string]any{
		"properties": DefaultProperties,
		"inputs":     inputs,
	}
	var resp struct {
		Results []Contact `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/batch/read", payload, &resp); err != nil {
		return nil, eris.Wrap(err, "hubspot: batch read contacts")
	}
	return resp.Results, nil
}

func (c *httpClient) UpdateContact(ctx context.Context, id string, properties map[string]string) error {
	payload := map[string]any{"properties": properties}
	path := "/crm/v3/objects/contacts/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, path, payload, nil); err != nil {
		return eris.Wrapf(err, "hubspot: update contact %s", id)
	}
	return nil
}

// ListStats pages through the whole list counting enriched and
// email-less contacts. Accurate but proportional to list size; callers
// cache the result.
func (c *httpClient) ListStats(ctx context.Context, listID string) (*ListStats, error) {
	stats := &ListStats{}
	after := ""

	for {
		page, err := c.ListMemberships(ctx, listID, 100, after)
		if err != nil {
			return nil, err
		}
		if len(page.ContactIDs) == 0 {
			break
		}

		contacts, err := c.BatchGetContacts(ctx, page.ContactIDs)
		if err != nil {
			return nil, err
		}
		for _, contact := range contacts {
			stats.TotalCount++
			if contact.Enriched() {
				stats.EnrichedCount++
			}
			if contact.Property("email") == "" {
				stats.NoEmailCount++
			}
		}

		if page.NextAfter == "" {
			break
		}
		after = page.NextAfter
	}

	stats.UnenrichedCount = stats.TotalCount - stats.EnrichedCount
	return stats, nil
}
