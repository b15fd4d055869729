package httpapi

import (
	"errors"
	"net/http"

	"github.com/lifeloop/lifeloop-backend/internal/mailer"
	"github.com/lifeloop/lifeloop-backend/internal/pipeline"
	"github.com/lifeloop/lifeloop-backend/internal/s3util"
	"github.com/lifeloop/lifeloop-backend/internal/store"
	"github.com/rs/zerolog/log"
)

type ingestRequest struct {
	ProfileID         string `json:"profile_id" validate:"required"`
	InstagramUsername string `json:"instagram_username" validate:"required"`
	Limit             int    `json:"limit"`
}

// handleIngest runs the ingest workflow for one profile. The consent gate
// runs before any fetch: an unconfirmed profile costs no scraper credits.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "Invalid JSON payload.")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httpError(w, http.StatusBadRequest, "profile_id and instagram_username are required.")
		return
	}

	profile, err := s.store.GetProfile(ctx, req.ProfileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Profile not found.")
			return
		}
		log.Error().Err(err).Msg("Profile lookup failed")
		httpError(w, http.StatusInternalServerError, "Failed to load profile.")
		return
	}
	if !profile.IsParentConfirmed {
		httpError(w, http.StatusForbidden, "Parent consent pending. Ask them to confirm the LifeLoop invite.")
		return
	}

	result, err := s.pipeline.Ingest(ctx, req.ProfileID, req.InstagramUsername, req.Limit)
	if err != nil {
		if errors.Is(err, pipeline.ErrUpstream) {
			log.Error().Err(err).Str("username", req.InstagramUsername).Msg("Remote fetch failed")
			httpError(w, http.StatusBadGateway, "Failed to fetch Instagram posts.")
			return
		}
		log.Error().Err(err).Msg("Ingest failed")
		httpError(w, http.StatusInternalServerError, "Ingestion failed.")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type processRequest struct {
	MediaID string `json:"media_id"`
	Limit   int    `json:"limit"`
}

// handleProcess captions and narrates stored media. Per-record failures are
// reported inside the processed array, not as an HTTP error.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "Invalid JSON payload.")
		return
	}

	outcomes, err := s.pipeline.Process(ctx, req.MediaID, req.Limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Media record not found.")
			return
		}
		log.Error().Err(err).Msg("Process run failed")
		httpError(w, http.StatusInternalServerError, "Failed to read media records.")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"processed": outcomes})
}

type digestRequest struct {
	UserID      string `json:"user_id"`
	Limit       int    `json:"limit"`
	StudentName string `json:"student_name"`
}

// digestLimit caps how many records one digest includes.
const digestLimit = 10

// handleDigestPreview renders the digest HTML for a user's processed media
// without sending anything.
func (s *Server) handleDigestPreview(w http.ResponseWriter, r *http.Request) {
	html, _, errStatus, errMsg := s.buildDigest(r)
	if errMsg != "" {
		httpError(w, errStatus, errMsg)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(html))
}

// handleSendDigest renders the digest and emails it to the profile's parent.
func (s *Server) handleSendDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	html, req, errStatus, errMsg := s.buildDigest(r)
	if errMsg != "" {
		httpError(w, errStatus, errMsg)
		return
	}

	profile, err := s.store.GetProfile(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Profile not found.")
			return
		}
		log.Error().Err(err).Msg("Profile lookup failed")
		httpError(w, http.StatusInternalServerError, "Failed to load profile.")
		return
	}
	if profile.ParentEmail == nil || *profile.ParentEmail == "" {
		httpError(w, http.StatusBadRequest, "Profile has no parent email on file.")
		return
	}

	subject := "Your LifeLoop Legacy Digest"
	text := "Fresh family highlights are ready. Open this email in an HTML-capable client to view them."
	if err := s.mailer.Send(ctx, *profile.ParentEmail, subject, text, html); err != nil {
		log.Error().Err(err).Msg("Digest send failed")
		httpError(w, http.StatusBadGateway, "Failed to send digest email.")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Digest sent."})
}

// buildDigest parses a digest request and renders the HTML. Returns the
// parsed request so send-digest can reuse it.
func (s *Server) buildDigest(r *http.Request) (string, *digestRequest, int, string) {
	var req digestRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", nil, http.StatusBadRequest, "Invalid JSON payload."
	}
	if req.UserID == "" {
		return "", nil, http.StatusBadRequest, "user_id is required."
	}

	limit := req.Limit
	if limit <= 0 || limit > digestLimit {
		limit = digestLimit
	}

	records, err := s.store.ListProcessedMedia(r.Context(), req.UserID, limit)
	if err != nil {
		log.Error().Err(err).Str("userId", req.UserID).Msg("Digest media lookup failed")
		return "", nil, http.StatusInternalServerError, "Failed to load media records."
	}

	items := make([]mailer.DigestItem, 0, len(records))
	for _, record := range records {
		item := mailer.DigestItem{ImageURL: record.SourceURL}
		if record.Caption != nil {
			item.Caption = *record.Caption
		}
		if record.AudioURL != nil {
			item.AudioURL = *record.AudioURL
		}
		if record.ProcessedAt != nil {
			item.ProcessedAt = *record.ProcessedAt
		} else {
			item.ProcessedAt = record.CreatedAt
		}
		items = append(items, item)
	}

	html, err := mailer.RenderDigest(items, req.StudentName)
	if err != nil {
		log.Error().Err(err).Msg("Digest render failed")
		return "", nil, http.StatusInternalServerError, "Failed to render digest."
	}
	return html, &req, 0, ""
}

type transcribeRequest struct {
	Filename string `json:"filename"`
}

// handleTranscribeImage returns the raw stored bytes for an object key with
// its original content type, for downstream OCR/AI tooling.
func (s *Server) handleTranscribeImage(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "Invalid JSON payload.")
		return
	}
	if req.Filename == "" {
		httpError(w, http.StatusBadRequest, "Missing 'filename' field.")
		return
	}

	data, contentType, err := s.objects.Get(r.Context(), req.Filename)
	if err != nil {
		if errors.Is(err, s3util.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Image not found in bucket.")
			return
		}
		log.Error().Err(err).Str("key", req.Filename).Msg("Object fetch failed")
		httpError(w, http.StatusInternalServerError, "Failed to fetch image.")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
