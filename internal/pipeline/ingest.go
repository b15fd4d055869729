package pipeline

import (
	"context"
	"fmt"

	"github.com/lifeloop/lifeloop-backend/internal/normalize"
	"github.com/lifeloop/lifeloop-backend/internal/s3util"
	"github.com/lifeloop/lifeloop-backend/internal/store"
	"github.com/rs/zerolog/log"
)

// Skip describes one item excluded from an ingest batch.
type Skip struct {
	MediaID   string `json:"media_id"`
	SourceURL string `json:"source_url,omitempty"`
	Reason    string `json:"reason"`
}

// IngestResult summarizes one ingest run.
type IngestResult struct {
	Inserted int                 `json:"inserted"`
	Skipped  []Skip              `json:"skipped"`
	Records  []store.MediaRecord `json:"records"`
}

// Ingest fetches up to limit recent posts for the username, stores the new
// ones, and reports every skipped item with a reason. The limit is clamped
// to [1, 40].
//
// A failure of the remote fetch aborts the whole call (wrapped in
// ErrUpstream); everything after that point is per-item. The dedup check
// runs strictly before the insert but is not atomic with it, so concurrent
// ingests for the same profile can still double-insert.
func (p *Pipeline) Ingest(ctx context.Context, profileID, username string, limit int) (*IngestResult, error) {
	limit = clampIngestLimit(limit)

	items, err := p.fetcher.FetchPosts(ctx, username, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	result := &IngestResult{Skipped: []Skip{}}
	var staged []store.MediaRecord

	for _, item := range items {
		media := normalize.Normalize(item)
		logger := log.With().Str("mediaId", media.MediaID).Str("profileId", profileID).Logger()

		if !media.HasSourceURL() {
			logger.Warn().Msg("Post has no resolvable media URL; skipping")
			result.Skipped = append(result.Skipped, Skip{MediaID: media.MediaID, Reason: ReasonMissingURL})
			continue
		}

		exists, err := p.store.MediaExists(ctx, profileID, media.SourceURL)
		if err != nil {
			logger.Error().Err(err).Msg("Dedup check failed")
			result.Skipped = append(result.Skipped, Skip{MediaID: media.MediaID, SourceURL: media.SourceURL, Reason: ReasonDedupFailed})
			continue
		}
		if exists {
			logger.Debug().Msg("Post already ingested; skipping")
			result.Skipped = append(result.Skipped, Skip{MediaID: media.MediaID, SourceURL: media.SourceURL, Reason: ReasonDuplicate})
			continue
		}

		data, contentType, err := p.download(ctx, media.SourceURL)
		if err != nil {
			logger.Warn().Err(err).Msg("Asset download failed")
			result.Skipped = append(result.Skipped, Skip{MediaID: media.MediaID, SourceURL: media.SourceURL, Reason: ReasonDownloadFailed})
			continue
		}

		capturedAt := media.CapturedAt
		if capturedAt == "" {
			if ts, ok := normalize.CapturedAtFromEXIF(data); ok {
				capturedAt = ts
			}
		}

		key := s3util.MediaKey(profileID, media.MediaID, contentType)
		if err := p.objects.Put(ctx, key, contentType, data); err != nil {
			logger.Error().Err(err).Str("key", key).Msg("Object upload failed")
			result.Skipped = append(result.Skipped, Skip{MediaID: media.MediaID, SourceURL: media.SourceURL, Reason: ReasonUploadFailed})
			continue
		}

		record := store.MediaRecord{
			UserID:     profileID,
			SourceURL:  media.SourceURL,
			StorageKey: key,
		}
		if capturedAt != "" {
			record.CapturedAt = &capturedAt
		}
		staged = append(staged, record)
	}

	inserted, err := p.store.InsertMedia(ctx, staged)
	if err != nil {
		return nil, fmt.Errorf("insert staged media: %w", err)
	}

	result.Inserted = len(inserted)
	result.Records = inserted
	if result.Records == nil {
		result.Records = []store.MediaRecord{}
	}

	log.Info().
		Str("profileId", profileID).
		Str("username", username).
		Int("fetched", len(items)).
		Int("inserted", result.Inserted).
		Int("skipped", len(result.Skipped)).
		Msg("Ingest complete")
	return result, nil
}
