// Package zoominfo provides OAuth-authenticated access to the ZoomInfo
// GTM contact search and enrich APIs.
package zoominfo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Credentials configures ZoomInfo OAuth. Either AccessToken (static,
// short-lived) or RefreshToken plus client id/secret (auto-refreshing)
// must be set.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// DefaultTokenURL is ZoomInfo's Okta token endpoint.
const DefaultTokenURL = "https://okta-login.zoominfo.com/oauth2/default/v1/token"

// Client defines the ZoomInfo operations used by the enrichment pipeline.
type Client interface {
	// SearchContact looks up candidates matching an email address.
	// Search returns match metadata only; use EnrichContact for field data.
	SearchContact(ctx context.Context, email string) ([]Candidate, error)
	// EnrichContact fetches full field data for a matched person.
	EnrichContact(ctx context.Context, req EnrichRequest) (*EnrichResult, error)
}

// Candidate is one search match.
type Candidate struct {
	PersonID  string
	CompanyID string
}

// EnrichRequest identifies the person to enrich. PersonID takes
// precedence; the remaining fields improve match confidence.
type EnrichRequest struct {
	PersonID     string
	EmailAddress string
	FirstName    string
	LastName     string
	CompanyName  string
}

// Person is the enriched field data for one contact.
type Person struct {
	FirstName    string        `json:"firstName"`
	LastName     string        `json:"lastName"`
	Email        string        `json:"email"`
	CompanyName  string        `json:"companyName"`
	JobTitle     string        `json:"jobTitle"`
	Phone        string        `json:"phone"`
	DirectPhone  string        `json:"directPhoneDialNumber"`
	MobilePhone  string        `json:"mobilePhoneDialNumber"`
	City         string        `json:"city"`
	State        string        `json:"state"`
	ZipCode      string        `json:"zipCode"`
	Country      string        `json:"country"`
	LinkedInURL  string        `json:"linkedInUrl"`
	ExternalURLs []ExternalURL `json:"externalUrls"`
}

// ExternalURL is a social or web link attached to a person.
type ExternalURL struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// LinkedIn returns the person's LinkedIn profile URL, preferring the
// external-URL list over the flat field, or "" if none is present.
func (p Person) LinkedIn() string {
	for _, u := range p.ExternalURLs {
		if strings.Contains(strings.ToLower(u.Type), "linkedin") ||
			strings.Contains(strings.ToLower(u.URL), "linkedin.com") {
			return u.URL
		}
	}
	return p.LinkedInURL
}

// EnrichResult is the outcome of an enrich call. LimitExceeded is set
// when the account's enrichment credits are exhausted; Person is nil in
// that case.
type EnrichResult struct {
	LimitExceeded bool
	Person        *Person
}

// ClientOption configures the ZoomInfo client.
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

// WithRateLimit sets a per-second rate limit for ZoomInfo API calls.
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a ZoomInfo client. With a refresh token the access
// token is renewed automatically via the OAuth token endpoint; a bare
// access token is used as-is until it expires.
func NewClient(ctx context.Context, creds Credentials, opts ...ClientOption) Client {
	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	var src oauth2.TokenSource
	if creds.RefreshToken != "" {
		conf := &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		}
		src = conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	} else {
		src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken})
	}

	base := oauth2.NewClient(ctx, src)
	base.Timeout = 30 * time.Second

	c := &httpClient{
		baseURL: "https://api.zoominfo.com",
		http:    base,
		limiter: rate.NewLimiter(2, 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// outputFields limits the enrich response to the plan's available fields.
var outputFields = []string{
	"id",
	"firstName",
	"lastName",
	"email",
	"companyName",
	"jobTitle",
	"city",
	"state",
	"country",
}

func (c *httpClient) post(ctx context.Context, path string, payload, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "zoominfo: rate limiter wait")
		}
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "zoominfo: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "zoominfo: create request")
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	req.Header.Set("Content-Type", "application/vnd.api+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "zoominfo: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "zoominfo: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eris.Errorf("zoominfo: POST %s: status %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "zoominfo: unmarshal response")
	}
	return nil
}

type searchResponse struct {
	Data []struct {
		ID         json.Number `json:"id"`
		Attributes struct {
			Company struct {
				ID json.Number `json:"id"`
			} `json:"company"`
		} `json:"attributes"`
	} `json:"data"`
}

func (c *httpClient) SearchContact(ctx context.Context, email string) ([]Candidate, error) {
	payload := map[string]any{
		"data": map[string]any{
			"type": "ContactSearch",
			"attributes": map[string]any{
				"emailAddress": email,
			},
		},
	}

	var resp searchResponse
	if err := c.post(ctx, "/gtm/data/v1/contacts/search", payload, &resp); err != nil {
		return nil, eris.Wrap(err, "zoominfo: contact search")
	}

	candidates := make([]Candidate, 0, len(resp.Data))
	for _, d := range resp.Data {
		candidates = append(candidates, Candidate{
			PersonID:  d.ID.String(),
			CompanyID: d.Attributes.Company.ID.String(),
		})
	}
	return candidates, nil
}

type enrichResponse struct {
	Data []struct {
		Meta struct {
			MatchStatus string `json:"matchStatus"`
		} `json:"meta"`
		Attributes *Person `json:"attributes"`
	} `json:"data"`
}

func (c *httpClient) EnrichContact(ctx context.Context, req EnrichRequest) (*EnrichResult, error) {
	match := map[string]any{}
	if req.PersonID != "" {
		match["personId"] = req.PersonID
	}
	if req.EmailAddress != "" {
		match["emailAddress"] = req.EmailAddress
	}
	if req.FirstName != "" {
		match["firstName"] = req.FirstName
	}
	if req.LastName != "" {
		match["lastName"] = req.LastName
	}
	if req.CompanyName != "" {
		match["companyName"] = req.CompanyName
	}

	payload := map[string]any{
		"data": map[string]any{
			"type": "ContactEnrich",
			"attributes": map[string]any{
				"matchPersonInput": []map[string]any{match},
				"outputFields":     outputFields,
			},
		},
	}

	var resp enrichResponse
	if err := c.post(ctx, "/gtm/data/v1/contacts/enrich", payload, &resp); err != nil {
		return nil, eris.Wrap(err, "zoominfo: contact enrich")
	}

	result := &EnrichResult{}
	if len(resp.Data) == 0 {
		return result, nil
	}
	if resp.Data[0].Meta.MatchStatus == "LIMIT_EXCEEDED" {
		result.LimitExceeded = true
		return result, nil
	}
	result.Person = resp.Data[0].Attributes
	return result, nil
}
