package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultTimeout is the HTTP client timeout for PostgREST calls.
	defaultTimeout = 15 * time.Second

	preferReturn = "return=representation"
	preferMerge  = "resolution=merge-duplicates,return=representation"
)

// Client is a Supabase PostgREST client implementing RecordStore.
// It authenticates with the service-role key, bypassing row-level security,
// and must therefore never be reachable from untrusted code paths.
type Client struct {
	httpClient *http.Client
	baseURL    string // {SUPABASE_URL}/rest/v1
	serviceKey string
}

var _ RecordStore = (*Client)(nil)

// NewClient creates a PostgREST client for the given Supabase project.
func NewClient(supabaseURL, serviceKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    supabaseURL + "/rest/v1",
		serviceKey: serviceKey,
	}
}

// --- user_profiles ---

func (c *Client) GetProfile(ctx context.Context, id string) (*UserProfile, error) {
	q := url.Values{"id": {"eq." + id}, "limit": {"1"}}
	var rows []UserProfile
	if err := c.selectRows(ctx, "user_profiles", q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (c *Client) UpsertProfile(ctx context.Context, p ProfileUpsert) error {
	return c.write(ctx, http.MethodPost, "user_profiles", nil, p, preferMerge, nil)
}

func (c *Client) PatchProfile(ctx context.Context, id string, patch ProfilePatch) error {
	q := url.Values{"id": {"eq." + id}}
	var rows []UserProfile
	if err := c.write(ctx, http.MethodPatch, "user_profiles", q, patch, preferReturn, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// --- instagram_media ---

func (c *Client) MediaExists(ctx context.Context, userID, sourceURL string) (bool, error) {
	q := url.Values{
		"user_id":    {"eq." + userID},
		"source_url": {"eq." + sourceURL},
		"select":     {"id"},
		"limit":      {"1"},
	}
	var rows []struct {
		ID string `json:"id"`
	}
	if err := c.selectRows(ctx, "instagram_media", q, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (c *Client) InsertMedia(ctx context.Context, records []MediaRecord) ([]MediaRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}
	var inserted []MediaRecord
	if err := c.write(ctx, http.MethodPost, "instagram_media", nil, records, preferReturn, &inserted); err != nil {
		return nil, err
	}
	log.Debug().Int("count", len(inserted)).Msg("Media rows inserted")
	return inserted, nil
}

func (c *Client) GetMedia(ctx context.Context, id string) (*MediaRecord, error) {
	q := url.Values{"id": {"eq." + id}, "limit": {"1"}}
	var rows []MediaRecord
	if err := c.selectRows(ctx, "instagram_media", q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (c *Client) ListUnprocessedMedia(ctx context.Context, limit int) ([]MediaRecord, error) {
	q := url.Values{
		"processed_at": {"is.null"},
		"order":        {"created_at.asc"},
		"limit":        {fmt.Sprintf("%d", limit)},
	}
	var rows []MediaRecord
	if err := c.selectRows(ctx, "instagram_media", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) ListProcessedMedia(ctx context.Context, userID string, limit int) ([]MediaRecord, error) {
	q := url.Values{
		"user_id":      {"eq." + userID},
		"processed_at": {"not.is.null"},
		"order":        {"processed_at.desc"},
		"limit":        {fmt.Sprintf("%d", limit)},
	}
	var rows []MediaRecord
	if err := c.selectRows(ctx, "instagram_media", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) PatchMedia(ctx context.Context, id string, patch MediaPatch) (*MediaRecord, error) {
	q := url.Values{"id": {"eq." + id}}
	var rows []MediaRecord
	if err := c.write(ctx, http.MethodPatch, "instagram_media", q, patch, preferReturn, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// --- parent_confirmations ---

func (c *Client) InsertConfirmation(ctx context.Context, confirmation ParentConfirmation) error {
	return c.write(ctx, http.MethodPost, "parent_confirmations", nil, confirmation, "", nil)
}

func (c *Client) GetConfirmationByToken(ctx context.Context, token string) (*ParentConfirmation, error) {
	q := url.Values{"token": {"eq." + token}, "limit": {"1"}}
	var rows []ParentConfirmation
	if err := c.selectRows(ctx, "parent_confirmations", q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (c *Client) PatchConfirmation(ctx context.Context, id string, patch ConfirmationPatch) error {
	q := url.Values{"id": {"eq." + id}}
	return c.write(ctx, http.MethodPatch, "parent_confirmations", q, patch, "", nil)
}

// --- Internal helpers ---

// selectRows performs a GET against one table and decodes the JSON array.
func (c *Client) selectRows(ctx context.Context, table string, query url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/"+table+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req, "")

	body, err := c.do(req, table)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse %s response: %w", table, err)
	}
	return nil
}

// write performs a POST or PATCH with a JSON body. When out is non-nil the
// response representation is decoded into it.
func (c *Client) write(ctx context.Context, method, table string, query url.Values, payload interface{}, prefer string, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", table, err)
	}

	endpoint := c.baseURL + "/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req, prefer)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, table)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parse %s response: %w", table, err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, prefer string) {
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
}

func (c *Client) do(req *http.Request, table string) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, table, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", table, err)
	}

	log.Debug().
		Str("method", req.Method).
		Str("table", table).
		Int("statusCode", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("PostgREST request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: status %d (body: %s)",
			req.Method, table, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
