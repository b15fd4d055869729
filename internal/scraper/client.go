// Package scraper fetches a user's recent Instagram posts through an
// external scraping API.
//
// The provider is configured by base URL and API key; response envelopes
// vary between provider versions (bare array, {items}, {data}, or
// {data:{items}}), so the client unwraps whichever shape it receives and
// leaves per-item field resolution to the normalize package.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lifeloop/lifeloop-backend/internal/normalize"
	"github.com/rs/zerolog/log"
)

// defaultTimeout is the HTTP client timeout for scraper calls. Scrapes can
// be slow when the provider has no warm cache for the profile.
const defaultTimeout = 120 * time.Second

// Client calls the scraping API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a scraper client for the given provider.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// envelope covers the response wrappers observed across provider versions.
type envelope struct {
	Items []normalize.Raw `json:"items"`
	Data  json.RawMessage `json:"data"`
}

// FetchPosts returns up to limit raw post items for the username. Any
// transport error, non-2xx status, or undecodable body is returned as an
// error; callers surface it as an upstream (502-class) failure.
func (c *Client) FetchPosts(ctx context.Context, username string, limit int) ([]normalize.Raw, error) {
	q := url.Values{
		"username": {username},
		"limit":    {strconv.Itoa(limit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/posts?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read scraper response: %w", err)
	}

	log.Debug().
		Str("username", username).
		Int("statusCode", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Scraper API response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("scraper returned status %d for %q", resp.StatusCode, username)
	}

	items, err := unwrapItems(body)
	if err != nil {
		return nil, fmt.Errorf("parse scraper response for %q: %w", username, err)
	}

	if len(items) > limit {
		items = items[:limit]
	}
	log.Info().Str("username", username).Int("count", len(items)).Msg("Fetched remote posts")
	return items, nil
}

// unwrapItems peels the provider's response envelope down to the post list.
func unwrapItems(body []byte) ([]normalize.Raw, error) {
	// Bare array.
	var items []normalize.Raw
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unrecognized envelope: %w", err)
	}
	if env.Items != nil {
		return env.Items, nil
	}
	if len(env.Data) > 0 {
		// {data: [...]} or {data: {items: [...]}}
		if err := json.Unmarshal(env.Data, &items); err == nil {
			return items, nil
		}
		var inner envelope
		if err := json.Unmarshal(env.Data, &inner); err == nil && inner.Items != nil {
			return inner.Items, nil
		}
	}
	return nil, fmt.Errorf("no post list found in response")
}
