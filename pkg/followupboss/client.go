// Package followupboss provides a client for the FollowUpBoss people API,
// which is the CRM feed for lead resyncs.
package followupboss

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the FollowUpBoss operations used by the CRM sync.
type Client interface {
	// ListPeople fetches every person record, following pagination links.
	ListPeople(ctx context.Context) ([]Person, error)
}

// Entry is a single phone or email record on a person.
type Entry struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// SocialData carries the enrichment block FollowUpBoss attaches to people.
type SocialData struct {
	Company string `json:"company"`
}

// Person is a FollowUpBoss person record, reduced to the fields the lead
// mapping consumes.
type Person struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	Emails     []Entry    `json:"emails"`
	Phones     []Entry    `json:"phones"`
	SocialData SocialData `json:"socialData"`
}

type peopleResponse struct {
	People   []Person `json:"people"`
	Metadata struct {
		NextLink string `json:"nextLink"`
	} `json:"_metadata"`
}

// Option configures the FollowUpBoss client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second request rate limit. FollowUpBoss enforces
// its own quota, so large syncs should stay under it.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a FollowUpBoss client. The API key is sent as the Basic
// auth username with an empty password, per the FollowUpBoss API contract.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.followupboss.com/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes a GET with exponential backoff on transient failures
// (429, 500, 502, 503). Returns the body and status of the final response.
func (c *httpClient) retryDo(ctx context.Context, url string) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.wait(ctx); err != nil {
			return nil, 0, eris.Wrap(err, "followupboss: rate limit wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, 0, eris.Wrap(err, "followupboss: create request")
		}
		req.SetBasicAuth(c.apiKey, "")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "followupboss: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("followupboss: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) ListPeople(ctx context.Context) ([]Person, error) {
	url := fmt.Sprintf("%s/people?limit=100", c.baseURL)

	var people []Person
	for url != "" {
		body, statusCode, err := c.retryDo(ctx, url)
		if err != nil {
			return nil, eris.Wrap(err, "followupboss: list people")
		}
		if statusCode != http.StatusOK {
			return nil, eris.Errorf("followupboss: unexpected status %d: %s", statusCode, string(body))
		}

		var page peopleResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, eris.Wrap(err, "followupboss: decode people response")
		}
		people = append(people, page.People...)
		url = page.Metadata.NextLink
	}

	return people, nil
}
