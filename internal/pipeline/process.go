package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lifeloop/lifeloop-backend/internal/s3util"
	"github.com/lifeloop/lifeloop-backend/internal/store"
	"github.com/rs/zerolog/log"
)

// Outcome reports the result of processing one media record. Exactly one of
// Record and Error is set.
type Outcome struct {
	ID     string             `json:"id"`
	Record *store.MediaRecord `json:"record,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Process captions and optionally narrates stored media. With an explicit
// mediaID the record is processed even if it already has a processed_at —
// explicit reprocessing is the only way to regenerate a caption. Without
// one, up to limit unprocessed records are handled, oldest first.
//
// Per-record failures land in the returned slice; only a store read failure
// aborts the call.
func (p *Pipeline) Process(ctx context.Context, mediaID string, limit int) ([]Outcome, error) {
	var records []store.MediaRecord

	if mediaID != "" {
		record, err := p.store.GetMedia(ctx, mediaID)
		if err != nil {
			return nil, fmt.Errorf("load media %s: %w", mediaID, err)
		}
		records = []store.MediaRecord{*record}
	} else {
		var err error
		records, err = p.store.ListUnprocessedMedia(ctx, clampProcessLimit(limit))
		if err != nil {
			return nil, fmt.Errorf("list unprocessed media: %w", err)
		}
	}

	outcomes := make([]Outcome, 0, len(records))
	for _, record := range records {
		updated, err := p.processOne(ctx, record)
		if err != nil {
			log.Error().Err(err).Str("mediaId", record.ID).Msg("Processing failed for record")
			outcomes = append(outcomes, Outcome{ID: record.ID, Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, Outcome{ID: record.ID, Record: updated})
	}

	log.Info().Int("processed", len(outcomes)).Msg("Process run complete")
	return outcomes, nil
}

// processOne runs caption + narration for a single record and patches the row.
func (p *Pipeline) processOne(ctx context.Context, record store.MediaRecord) (*store.MediaRecord, error) {
	data, contentType, err := p.objects.Get(ctx, record.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("fetch stored image: %w", err)
	}

	captionText, confidence, err := p.captioner.Caption(ctx, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("caption: %w", err)
	}

	// Narration is best-effort: a synthesis or upload failure leaves the
	// caption persisted with a null audio_url instead of failing the record.
	audioURL := p.narrate(ctx, record, captionText)

	now := time.Now().UTC().Format(time.RFC3339)
	patch := store.MediaPatch{
		Caption:           &captionText,
		CaptionConfidence: &confidence,
		ProcessedAt:       &now,
	}
	if audioURL != "" {
		patch.AudioURL = &audioURL
	}

	updated, err := p.store.PatchMedia(ctx, record.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("patch record: %w", err)
	}
	return updated, nil
}

// narrate synthesizes and stores audio for a caption, returning the public
// URL or "" when narration is unavailable or fails.
func (p *Pipeline) narrate(ctx context.Context, record store.MediaRecord, captionText string) string {
	if !p.narrator.Enabled() {
		return ""
	}

	audio, audioType, err := p.narrator.Synthesize(ctx, captionText, p.voiceFor(ctx, record.UserID))
	if err != nil {
		log.Warn().Err(err).Str("mediaId", record.ID).Msg("Narration synthesis failed; continuing without audio")
		return ""
	}
	if len(audio) == 0 {
		return ""
	}

	key := s3util.NarrationKey(record.ID, audioType)
	if err := p.objects.Put(ctx, key, audioType, audio); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Narration upload failed; continuing without audio")
		return ""
	}
	return p.objects.PublicURL(key)
}

// voiceFor resolves the owner's cloned voice, falling back to the stock
// voice when the profile is missing or has none registered.
func (p *Pipeline) voiceFor(ctx context.Context, userID string) string {
	profile, err := p.store.GetProfile(ctx, userID)
	if err != nil {
		log.Debug().Err(err).Str("userId", userID).Msg("Profile lookup for voice failed; using default voice")
		return ""
	}
	if profile.VoiceProfileID == nil {
		return ""
	}
	return *profile.VoiceProfileID
}
