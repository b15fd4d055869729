// Package store persists LifeLoop rows through the Supabase PostgREST layer.
//
// The database owns all state: the service keeps nothing in memory between
// requests. Three tables are used: user_profiles (one row per authenticated
// student), instagram_media (one row per ingested post), and
// parent_confirmations (consent tokens).
//
// All methods are safe for concurrent use. Lookup methods return ErrNotFound
// when no row matches; list methods return an empty slice.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// MediaRecord is one row of instagram_media. Nullable columns are pointers;
// a nil ProcessedAt marks the record as not yet captioned.
type MediaRecord struct {
	ID                string   `json:"id,omitempty"`
	UserID            string   `json:"user_id"`
	SourceURL         string   `json:"source_url"`
	StorageKey        string   `json:"storage_key"`
	Caption           *string  `json:"caption,omitempty"`
	CaptionConfidence *float64 `json:"caption_confidence,omitempty"`
	AudioURL          *string  `json:"audio_url,omitempty"`
	CapturedAt        *string  `json:"captured_at,omitempty"`
	ProcessedAt       *string  `json:"processed_at,omitempty"`
	CreatedAt         string   `json:"created_at,omitempty"`
}

// MediaPatch is a partial update applied to one instagram_media row.
type MediaPatch struct {
	Caption           *string  `json:"caption,omitempty"`
	CaptionConfidence *float64 `json:"caption_confidence,omitempty"`
	AudioURL          *string  `json:"audio_url,omitempty"`
	ProcessedAt       *string  `json:"processed_at,omitempty"`
}

// UserProfile is one row of user_profiles. The primary key matches the
// Supabase auth identity.
type UserProfile struct {
	ID                string  `json:"id"`
	Email             *string `json:"email,omitempty"`
	IGUsername        *string `json:"ig_username,omitempty"`
	ParentEmail       *string `json:"parent_email,omitempty"`
	IsParentConfirmed bool    `json:"is_parent_confirmed"`
	ParentConfirmedAt *string `json:"parent_confirmed_at,omitempty"`
	VoiceSampleURL    *string `json:"voice_sample_url,omitempty"`
	VoiceProfileID    *string `json:"voice_profile_id,omitempty"`
}

// ProfileUpsert merges fields into a user_profiles row keyed by ID.
// Nil fields are left untouched so a request without a new voice sample
// keeps the previously stored voice columns. is_parent_confirmed is
// deliberately absent: once true it never reverts, not even when the
// student re-submits the consent form.
type ProfileUpsert struct {
	ID             string  `json:"id"`
	Email          *string `json:"email,omitempty"`
	IGUsername     string  `json:"ig_username"`
	ParentEmail    string  `json:"parent_email"`
	VoiceSampleURL *string `json:"voice_sample_url,omitempty"`
	VoiceProfileID *string `json:"voice_profile_id,omitempty"`
}

// ProfilePatch is a partial update applied to one user_profiles row.
type ProfilePatch struct {
	ParentEmail       *string `json:"parent_email,omitempty"`
	IsParentConfirmed *bool   `json:"is_parent_confirmed,omitempty"`
	ParentConfirmedAt *string `json:"parent_confirmed_at,omitempty"`
}

// ParentConfirmation is one row of parent_confirmations. Tokens are single-use
// by convention; ExpiresAt is advisory and only checked when the parent
// follows the confirmation link.
type ParentConfirmation struct {
	ID          string  `json:"id,omitempty"`
	UserID      string  `json:"user_id"`
	ParentEmail string  `json:"parent_email"`
	Token       string  `json:"token"`
	Status      string  `json:"status"`
	ExpiresAt   string  `json:"expires_at"`
	RespondedAt *string `json:"responded_at,omitempty"`
}

// ConfirmationPatch is a partial update applied to one parent_confirmations row.
type ConfirmationPatch struct {
	Status      *string `json:"status,omitempty"`
	RespondedAt *string `json:"responded_at,omitempty"`
}

// Confirmation statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
)

// RecordStore is the persistence interface the pipeline and handlers depend
// on. The production implementation is the PostgREST client in this package;
// tests substitute in-memory fakes.
type RecordStore interface {
	// --- user_profiles ---

	// GetProfile retrieves a profile by primary key.
	GetProfile(ctx context.Context, id string) (*UserProfile, error)

	// UpsertProfile creates or merges a profile row keyed by ID.
	UpsertProfile(ctx context.Context, p ProfileUpsert) error

	// PatchProfile applies a partial update to a profile row.
	PatchProfile(ctx context.Context, id string, patch ProfilePatch) error

	// --- instagram_media ---

	// MediaExists reports whether a row with the exact (user_id, source_url)
	// pair already exists. Not atomic with InsertMedia: two concurrent
	// ingests for the same pair can still double-insert.
	MediaExists(ctx context.Context, userID, sourceURL string) (bool, error)

	// InsertMedia inserts the staged rows in one batch and returns them with
	// store-generated IDs populated.
	InsertMedia(ctx context.Context, records []MediaRecord) ([]MediaRecord, error)

	// GetMedia retrieves a media row by ID regardless of processed state.
	GetMedia(ctx context.Context, id string) (*MediaRecord, error)

	// ListUnprocessedMedia returns up to limit rows with a null processed_at,
	// oldest first.
	ListUnprocessedMedia(ctx context.Context, limit int) ([]MediaRecord, error)

	// ListProcessedMedia returns up to limit processed rows for a user,
	// newest first. Used to build digest emails.
	ListProcessedMedia(ctx context.Context, userID string, limit int) ([]MediaRecord, error)

	// PatchMedia applies a partial update and returns the updated row.
	PatchMedia(ctx context.Context, id string, patch MediaPatch) (*MediaRecord, error)

	// --- parent_confirmations ---

	// InsertConfirmation records a new consent token.
	InsertConfirmation(ctx context.Context, c ParentConfirmation) error

	// GetConfirmationByToken retrieves a confirmation row by its token.
	GetConfirmationByToken(ctx context.Context, token string) (*ParentConfirmation, error)

	// PatchConfirmation applies a partial update to a confirmation row.
	PatchConfirmation(ctx context.Context, id string, patch ConfirmationPatch) error
}
