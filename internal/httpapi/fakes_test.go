package httpapi

import (
	"context"
	"errors"

	"github.com/lifeloop/lifeloop-backend/internal/auth"
	"github.com/lifeloop/lifeloop-backend/internal/pipeline"
	"github.com/lifeloop/lifeloop-backend/internal/store"
)

// fakeStore is an in-memory RecordStore for handler tests.
type fakeStore struct {
	profiles      map[string]*store.UserProfile
	confirmations map[string]*store.ParentConfirmation // keyed by token
	processed     map[string][]store.MediaRecord       // keyed by user ID

	insertedConfirmations []store.ParentConfirmation
	profilePatches        map[string][]store.ProfilePatch
	confirmationPatches   map[string][]store.ConfirmationPatch
	upserts               []store.ProfileUpsert
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:            map[string]*store.UserProfile{},
		confirmations:       map[string]*store.ParentConfirmation{},
		processed:           map[string][]store.MediaRecord{},
		profilePatches:      map[string][]store.ProfilePatch{},
		confirmationPatches: map[string][]store.ConfirmationPatch{},
	}
}

func (f *fakeStore) GetProfile(ctx context.Context, id string) (*store.UserProfile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakeStore) UpsertProfile(ctx context.Context, p store.ProfileUpsert) error {
	f.upserts = append(f.upserts, p)
	existing, ok := f.profiles[p.ID]
	if !ok {
		existing = &store.UserProfile{ID: p.ID}
		f.profiles[p.ID] = existing
	}
	existing.IGUsername = &p.IGUsername
	existing.ParentEmail = &p.ParentEmail
	if p.VoiceSampleURL != nil {
		existing.VoiceSampleURL = p.VoiceSampleURL
	}
	if p.VoiceProfileID != nil {
		existing.VoiceProfileID = p.VoiceProfileID
	}
	return nil
}

func (f *fakeStore) PatchProfile(ctx context.Context, id string, patch store.ProfilePatch) error {
	p, ok := f.profiles[id]
	if !ok {
		return store.ErrNotFound
	}
	f.profilePatches[id] = append(f.profilePatches[id], patch)
	if patch.ParentEmail != nil {
		p.ParentEmail = patch.ParentEmail
	}
	if patch.IsParentConfirmed != nil {
		p.IsParentConfirmed = *patch.IsParentConfirmed
	}
	if patch.ParentConfirmedAt != nil {
		p.ParentConfirmedAt = patch.ParentConfirmedAt
	}
	return nil
}

func (f *fakeStore) MediaExists(ctx context.Context, userID, sourceURL string) (bool, error) {
	return false, nil
}

func (f *fakeStore) InsertMedia(ctx context.Context, records []store.MediaRecord) ([]store.MediaRecord, error) {
	return records, nil
}

func (f *fakeStore) GetMedia(ctx context.Context, id string) (*store.MediaRecord, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListUnprocessedMedia(ctx context.Context, limit int) ([]store.MediaRecord, error) {
	return nil, nil
}

func (f *fakeStore) ListProcessedMedia(ctx context.Context, userID string, limit int) ([]store.MediaRecord, error) {
	rows := f.processed[userID]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeStore) PatchMedia(ctx context.Context, id string, patch store.MediaPatch) (*store.MediaRecord, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) InsertConfirmation(ctx context.Context, c store.ParentConfirmation) error {
	f.insertedConfirmations = append(f.insertedConfirmations, c)
	copied := c
	if copied.ID == "" {
		copied.ID = "conf-1"
	}
	f.confirmations[c.Token] = &copied
	return nil
}

func (f *fakeStore) GetConfirmationByToken(ctx context.Context, token string) (*store.ParentConfirmation, error) {
	c, ok := f.confirmations[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeStore) PatchConfirmation(ctx context.Context, id string, patch store.ConfirmationPatch) error {
	f.confirmationPatches[id] = append(f.confirmationPatches[id], patch)
	for _, c := range f.confirmations {
		if c.ID == id {
			if patch.Status != nil {
				c.Status = *patch.Status
			}
			if patch.RespondedAt != nil {
				c.RespondedAt = patch.RespondedAt
			}
		}
	}
	return nil
}

// fakePipeline records calls and returns canned results.
type fakePipeline struct {
	ingestResult *pipeline.IngestResult
	ingestErr    error
	ingestCalls  int

	outcomes   []pipeline.Outcome
	processErr error
}

func (f *fakePipeline) Ingest(ctx context.Context, profileID, username string, limit int) (*pipeline.IngestResult, error) {
	f.ingestCalls++
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	if f.ingestResult != nil {
		return f.ingestResult, nil
	}
	return &pipeline.IngestResult{Skipped: []pipeline.Skip{}, Records: []store.MediaRecord{}}, nil
}

func (f *fakePipeline) Process(ctx context.Context, mediaID string, limit int) ([]pipeline.Outcome, error) {
	if f.processErr != nil {
		return nil, f.processErr
	}
	return f.outcomes, nil
}

// fakeVerifier resolves one fixed token.
type fakeVerifier struct {
	user *auth.User
}

func (f *fakeVerifier) GetUser(ctx context.Context, token string) (*auth.User, error) {
	if f.user == nil || token != "valid-token" {
		return nil, auth.ErrUnauthorized
	}
	return f.user, nil
}

// fakeMailer records sent mail.
type fakeMailer struct {
	err      error
	sent     int
	lastTo   string
	lastText string
	lastHTML string
	lastSubj string
}

func (f *fakeMailer) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if f.err != nil {
		return f.err
	}
	f.sent++
	f.lastTo = to
	f.lastSubj = subject
	f.lastText = textBody
	f.lastHTML = htmlBody
	return nil
}

// fakeObjects is an in-memory object store.
type fakeObjects struct {
	data   map[string][]byte
	types  map[string]string
	getErr error
	putErr error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) Put(ctx context.Context, key, contentType string, data []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.data[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeObjects) Get(ctx context.Context, key string) ([]byte, string, error) {
	if f.getErr != nil {
		return nil, "", f.getErr
	}
	data, ok := f.data[key]
	if !ok {
		return nil, "", errors.New("object missing")
	}
	return data, f.types[key], nil
}

func (f *fakeObjects) PublicURL(key string) string {
	return "https://media.example.com/" + key
}

// fakeVoices registers voices with a fixed ID.
type fakeVoices struct {
	voiceID string
	err     error
	calls   int
}

func (f *fakeVoices) AddVoice(ctx context.Context, name string, sample []byte, filename, contentType string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.voiceID, nil
}
