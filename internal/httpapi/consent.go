package httpapi

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lifeloop/lifeloop-backend/internal/auth"
	"github.com/lifeloop/lifeloop-backend/internal/mailer"
	"github.com/lifeloop/lifeloop-backend/internal/s3util"
	"github.com/lifeloop/lifeloop-backend/internal/store"
	"github.com/rs/zerolog/log"
)

// confirmationTTL is how long a consent token stays valid.
const confirmationTTL = 72 * time.Hour

// maxVoiceSampleBytes bounds uploaded voice samples.
const maxVoiceSampleBytes = 25 << 20

type parentRequestInput struct {
	InstagramUsername string
	ParentEmail       string
	ConsentGranted    bool

	VoiceSample      []byte
	VoiceFilename    string
	VoiceContentType string
}

type parentRequestJSON struct {
	InstagramUsername string `json:"instagramUsername" validate:"required"`
	ParentEmail       string `json:"parentEmail" validate:"required,email"`
	ConsentGranted    bool   `json:"consentGranted"`
}

// handleParentRequest records a consent request for the authenticated
// student: uploads an optional voice sample, upserts the profile, issues a
// confirmation token, and emails the parent.
func (s *Server) handleParentRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := s.verifier.GetUser(ctx, bearerToken(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			httpError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		log.Error().Err(err).Msg("Auth lookup failed")
		httpError(w, http.StatusInternalServerError, "Authentication check failed.")
		return
	}

	input, errMsg := s.parseParentRequest(r)
	if errMsg != "" {
		httpError(w, http.StatusBadRequest, errMsg)
		return
	}

	var voiceSampleURL, voiceProfileID *string
	if len(input.VoiceSample) > 0 {
		key := s3util.VoiceSampleKey(user.ID, input.VoiceFilename, time.Now())
		if err := s.objects.Put(ctx, key, input.VoiceContentType, input.VoiceSample); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Voice sample upload failed")
			httpError(w, http.StatusInternalServerError, "Voice sample upload failed.")
			return
		}
		u := s.objects.PublicURL(key)
		voiceSampleURL = &u

		// Voice cloning is best-effort: narration falls back to the stock
		// voice when registration fails.
		voiceID, err := s.voices.AddVoice(ctx, "LifeLoop-"+user.ID, input.VoiceSample, input.VoiceFilename, input.VoiceContentType)
		if err != nil {
			log.Warn().Err(err).Msg("ElevenLabs voice registration failed; continuing without cloned voice")
		} else if voiceID != "" {
			voiceProfileID = &voiceID
		}
	}

	upsert := store.ProfileUpsert{
		ID:             user.ID,
		IGUsername:     strings.TrimSpace(input.InstagramUsername),
		ParentEmail:    strings.TrimSpace(input.ParentEmail),
		VoiceSampleURL: voiceSampleURL,
		VoiceProfileID: voiceProfileID,
	}
	if user.Email != "" {
		upsert.Email = &user.Email
	}
	if err := s.store.UpsertProfile(ctx, upsert); err != nil {
		log.Error().Err(err).Str("profileId", user.ID).Msg("Profile upsert failed")
		httpError(w, http.StatusInternalServerError, "Failed to save profile.")
		return
	}

	token := uuid.NewString()
	expiresAt := time.Now().UTC().Add(confirmationTTL).Format(time.RFC3339)
	confirmation := store.ParentConfirmation{
		UserID:      user.ID,
		ParentEmail: upsert.ParentEmail,
		Token:       token,
		Status:      store.StatusPending,
		ExpiresAt:   expiresAt,
	}
	if err := s.store.InsertConfirmation(ctx, confirmation); err != nil {
		log.Error().Err(err).Msg("Confirmation insert failed")
		httpError(w, http.StatusInternalServerError, "Failed to record confirmation request.")
		return
	}

	confirmationLink := fmt.Sprintf("%s/api/parent-request/confirm?token=%s",
		s.appBaseURL, url.QueryEscape(token))

	htmlBody, err := mailer.RenderParentInvite("", upsert.IGUsername, confirmationLink)
	if err != nil {
		log.Error().Err(err).Msg("Invite render failed")
		httpError(w, http.StatusInternalServerError, "Failed to build parent email.")
		return
	}
	subject := "LifeLoop consent request for " + upsert.IGUsername
	textBody := mailer.ParentInviteText(upsert.IGUsername, confirmationLink)

	if err := s.mailer.Send(ctx, upsert.ParentEmail, subject, textBody, htmlBody); err != nil {
		log.Error().Err(err).Msg("Parent email send failed")
		httpError(w, http.StatusBadGateway, "Failed to send parent notification email.")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":               "Parent confirmation request recorded and email sent.",
		"voiceSampleUrl":        voiceSampleURL,
		"voiceProfileId":        voiceProfileID,
		"confirmationExpiresAt": expiresAt,
	})
}

// parseParentRequest accepts either multipart form data (with an optional
// voiceSample file) or a JSON body. The second return value is a client
// error message, empty on success.
func (s *Server) parseParentRequest(r *http.Request) (*parentRequestInput, string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxVoiceSampleBytes); err != nil {
			return nil, "Invalid form payload."
		}
		input := &parentRequestInput{
			InstagramUsername: r.FormValue("instagramUsername"),
			ParentEmail:       r.FormValue("parentEmail"),
			ConsentGranted:    r.FormValue("consentGranted") == "true",
		}
		if file, header, err := r.FormFile("voiceSample"); err == nil {
			defer file.Close()
			data, err := io.ReadAll(io.LimitReader(file, maxVoiceSampleBytes))
			if err != nil {
				return nil, "Could not read voice sample."
			}
			input.VoiceSample = data
			input.VoiceFilename = header.Filename
			input.VoiceContentType = header.Header.Get("Content-Type")
			if input.VoiceContentType == "" {
				input.VoiceContentType = "application/octet-stream"
			}
		}
		return validateParentRequest(input)
	}

	var payload parentRequestJSON
	if err := decodeJSON(r, &payload); err != nil {
		return nil, "Invalid JSON payload."
	}
	return validateParentRequest(&parentRequestInput{
		InstagramUsername: payload.InstagramUsername,
		ParentEmail:       payload.ParentEmail,
		ConsentGranted:    payload.ConsentGranted,
	})
}

func validateParentRequest(input *parentRequestInput) (*parentRequestInput, string) {
	if strings.TrimSpace(input.InstagramUsername) == "" {
		return nil, "Instagram username is required."
	}
	if strings.TrimSpace(input.ParentEmail) == "" {
		return nil, "Parent email is required."
	}
	if !input.ConsentGranted {
		return nil, "Consent must be granted before requesting parent confirmation."
	}
	return input, ""
}

// --- Token confirmation (parent clicks the email link) ---

var confirmPageTemplate = template.Must(template.New("confirm").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>LifeLoop Consent</title>
    <style>
      body { font-family: Arial, sans-serif; background: #f8fafc; color: #0f172a; padding: 40px; }
      .card { max-width: 520px; margin: 0 auto; background: #fff; border-radius: 16px; padding: 32px; box-shadow: 0 12px 32px rgba(15, 23, 42, 0.12); }
      h1 { margin-bottom: 16px; color: {{.StatusColor}}; }
      p { line-height: 1.6; }
      .footer { margin-top: 24px; font-size: 12px; color: #475569; }
    </style>
  </head>
  <body>
    <div class="card">
      <h1>{{.Heading}}</h1>
      <p>{{.Message}}</p>
      <div class="footer">
        LifeLoop &mdash; preserving the moments that matter most.
      </div>
    </div>
  </body>
</html>
`))

func renderConfirmPage(w http.ResponseWriter, message string, success bool) {
	heading := "We hit a snag"
	color := "#dc2626"
	status := http.StatusBadRequest
	if success {
		heading = "Consent confirmed!"
		color = "#16a34a"
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	confirmPageTemplate.Execute(w, struct {
		Heading     string
		Message     string
		StatusColor template.CSS
	}{Heading: heading, Message: message, StatusColor: template.CSS(color)})
}

// handleConfirmToken completes the consent flow when the parent follows the
// emailed link. Token expiry is only enforced here.
func (s *Server) handleConfirmToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		renderConfirmPage(w, "Missing confirmation token. Please use the link provided in your email.", false)
		return
	}

	record, err := s.store.GetConfirmationByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderConfirmPage(w, "We could not find this confirmation request. It may have already been completed.", false)
			return
		}
		log.Error().Err(err).Msg("Confirmation lookup failed")
		renderConfirmPage(w, "Something went wrong on our side. Please reach out to the LifeLoop team.", false)
		return
	}

	if record.Status == store.StatusConfirmed {
		renderConfirmPage(w, "Thanks again! You have already confirmed and the family dashboard is ready to sync memories.", true)
		return
	}

	if expired(record.ExpiresAt) {
		renderConfirmPage(w, "This confirmation link has expired. Ask your student to resend the LifeLoop request.", false)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	confirmed := true
	if err := s.store.PatchProfile(ctx, record.UserID, store.ProfilePatch{
		IsParentConfirmed: &confirmed,
		ParentConfirmedAt: &now,
	}); err != nil {
		log.Error().Err(err).Str("profileId", record.UserID).Msg("Failed to set parent confirmed")
		renderConfirmPage(w, "We could not mark this confirmation. Please try again later.", false)
		return
	}

	status := store.StatusConfirmed
	if err := s.store.PatchConfirmation(ctx, record.ID, store.ConfirmationPatch{
		Status:      &status,
		RespondedAt: &now,
	}); err != nil {
		log.Error().Err(err).Str("confirmationId", record.ID).Msg("Failed to update confirmation record")
		renderConfirmPage(w, "We could not finalise this confirmation. Please try again later.", false)
		return
	}

	renderConfirmPage(w, "Thanks for confirming! We will start building narrated Instagram highlights so your family can stay connected.", true)
}

func expired(expiresAt string) bool {
	if expiresAt == "" {
		return false
	}
	parsed, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return false
	}
	return parsed.Before(time.Now())
}

// --- Direct profile confirmation ---

type confirmParentRequest struct {
	ProfileID   string `json:"profile_id"`
	ParentEmail string `json:"parent_email"`
}

// handleConfirmParent marks a profile parent-confirmed by ID. Used by admin
// tooling and tests; the emailed token flow is the parent-facing path.
func (s *Server) handleConfirmParent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req confirmParentRequest
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "Invalid JSON payload.")
		return
	}
	if req.ProfileID == "" {
		httpError(w, http.StatusBadRequest, "profile_id is required.")
		return
	}

	if _, err := s.store.GetProfile(ctx, req.ProfileID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Profile not found.")
			return
		}
		log.Error().Err(err).Msg("Profile lookup failed")
		httpError(w, http.StatusInternalServerError, "Failed to load profile.")
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	confirmed := true
	patch := store.ProfilePatch{
		IsParentConfirmed: &confirmed,
		ParentConfirmedAt: &now,
	}
	if req.ParentEmail != "" {
		patch.ParentEmail = &req.ParentEmail
	}
	if err := s.store.PatchProfile(ctx, req.ProfileID, patch); err != nil {
		log.Error().Err(err).Msg("Profile patch failed")
		httpError(w, http.StatusInternalServerError, "Failed to update profile.")
		return
	}

	profile, err := s.store.GetProfile(ctx, req.ProfileID)
	if err != nil {
		log.Error().Err(err).Msg("Profile reload failed")
		httpError(w, http.StatusInternalServerError, "Failed to load updated profile.")
		return
	}
	respondJSON(w, http.StatusOK, profile)
}
