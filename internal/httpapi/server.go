// Package httpapi exposes the LifeLoop service over HTTP: the consent flow,
// the ingest and process workflows, digest email rendering, and raw image
// retrieval. Handlers own request validation and status-code mapping;
// domain behavior lives in the pipeline and its collaborators.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/lifeloop/lifeloop-backend/internal/auth"
	"github.com/lifeloop/lifeloop-backend/internal/pipeline"
	"github.com/lifeloop/lifeloop-backend/internal/store"
	"github.com/rs/zerolog/log"
)

// MediaPipeline is the slice of pipeline behavior the handlers use.
type MediaPipeline interface {
	Ingest(ctx context.Context, profileID, username string, limit int) (*pipeline.IngestResult, error)
	Process(ctx context.Context, mediaID string, limit int) ([]pipeline.Outcome, error)
}

// TokenVerifier resolves bearer tokens to users.
type TokenVerifier interface {
	GetUser(ctx context.Context, token string) (*auth.User, error)
}

// MailSender delivers one email with text and HTML bodies.
type MailSender interface {
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// VoiceRegistrar registers uploaded voice samples as cloned voices.
type VoiceRegistrar interface {
	AddVoice(ctx context.Context, name string, sample []byte, filename, contentType string) (string, error)
}

// Server holds the request handlers and their injected collaborators.
type Server struct {
	store      store.RecordStore
	pipeline   MediaPipeline
	verifier   TokenVerifier
	mailer     MailSender
	objects    pipeline.ObjectStore
	voices     VoiceRegistrar
	validate   *validator.Validate
	appBaseURL string
}

// NewServer creates the HTTP API server. All collaborators are constructed
// once in main and injected here; the server keeps no other state.
func NewServer(recordStore store.RecordStore, p MediaPipeline, verifier TokenVerifier, mail MailSender, objects pipeline.ObjectStore, voices VoiceRegistrar, appBaseURL string) *Server {
	return &Server{
		store:      recordStore,
		pipeline:   p,
		verifier:   verifier,
		mailer:     mail,
		objects:    objects,
		voices:     voices,
		validate:   validator.New(),
		appBaseURL: strings.TrimSuffix(appBaseURL, "/"),
	}
}

// Router builds the chi router with logging and CORS middleware.
func (s *Server) Router(frontendOrigin string) http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{frontendOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Post("/parent-request", s.handleParentRequest)
	r.Get("/parent-request/confirm", s.handleConfirmToken)
	r.Post("/confirm-parent", s.handleConfirmParent)
	r.Post("/ingest/instagram", s.handleIngest)
	r.Post("/process/instagram-media", s.handleProcess)
	r.Post("/email/digest-preview", s.handleDigestPreview)
	r.Post("/email/send-digest", s.handleSendDigest)
	r.Post("/transcribe-image", s.handleTranscribeImage)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs every API request with method, path, status, and timing.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return ""
}
