// Package pipeline orchestrates the two media workflows: ingest (fetch
// remote posts, normalize, dedup, download, store, insert) and process
// (caption, narrate, patch).
//
// Both workflows isolate failures per item: one post failing to download or
// caption never aborts the rest of the batch. Skips and failures are
// reported with reason codes so a caller can retry selectively; the service
// itself never retries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lifeloop/lifeloop-backend/internal/normalize"
	"github.com/lifeloop/lifeloop-backend/internal/store"
)

// ErrUpstream marks a failure of the remote fetch itself (as opposed to a
// per-item failure). Handlers map it to 502.
var ErrUpstream = errors.New("pipeline: upstream fetch failed")

// Skip reasons reported per item in ingest responses.
const (
	ReasonDuplicate      = "duplicate"
	ReasonMissingURL     = "missing_url"
	ReasonDedupFailed    = "dedup_failed"
	ReasonDownloadFailed = "download_failed"
	ReasonUploadFailed   = "upload_failed"
)

const (
	// Ingest fetch counts are clamped to [1, maxIngestLimit].
	maxIngestLimit = 40

	// defaultProcessLimit applies when a process call names no limit.
	defaultProcessLimit = 10

	// downloadTimeout bounds one asset download.
	downloadTimeout = 30 * time.Second
)

// PostFetcher fetches raw remote posts for a username.
type PostFetcher interface {
	FetchPosts(ctx context.Context, username string, limit int) ([]normalize.Raw, error)
}

// ObjectStore persists and serves binary assets.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	PublicURL(key string) string
}

// Captioner generates a caption plus confidence for image bytes.
type Captioner interface {
	Caption(ctx context.Context, image []byte, mimeType string) (string, float64, error)
}

// Narrator synthesizes spoken audio for a caption.
type Narrator interface {
	Enabled() bool
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, string, error)
}

// Pipeline wires the collaborators together. Construct once at startup and
// share across requests; all methods are safe for concurrent use.
type Pipeline struct {
	store      store.RecordStore
	fetcher    PostFetcher
	objects    ObjectStore
	captioner  Captioner
	narrator   Narrator
	httpClient *http.Client
}

// New creates a Pipeline around the given collaborators.
func New(recordStore store.RecordStore, fetcher PostFetcher, objects ObjectStore, captioner Captioner, narrator Narrator) *Pipeline {
	return &Pipeline{
		store:      recordStore,
		fetcher:    fetcher,
		objects:    objects,
		captioner:  captioner,
		narrator:   narrator,
		httpClient: &http.Client{Timeout: downloadTimeout},
	}
}

// clampIngestLimit forces the requested fetch count into [1, 40].
func clampIngestLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxIngestLimit {
		return maxIngestLimit
	}
	return n
}

// clampProcessLimit defaults an absent limit and caps runaway requests.
func clampProcessLimit(n int) int {
	if n <= 0 {
		return defaultProcessLimit
	}
	if n > maxIngestLimit {
		return maxIngestLimit
	}
	return n
}

// download fetches the asset bytes and content type for a source URL.
// Any transport error or non-2xx status is a per-item recoverable failure.
func (p *Pipeline) download(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read download: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}
