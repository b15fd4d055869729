package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lifeloop/lifeloop-backend/internal/auth"
	"github.com/lifeloop/lifeloop-backend/internal/store"
)

func (env *testEnv) postParentRequest(t *testing.T, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/parent-request", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	return w
}

func TestParentRequestUnauthorized(t *testing.T) {
	env := newTestEnv()

	w := env.postParentRequest(t, "", `{"instagramUsername":"sofia_gram","parentEmail":"parent@example.com","consentGranted":true}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w = env.postParentRequest(t, "wrong-token", `{"instagramUsername":"sofia_gram","parentEmail":"parent@example.com","consentGranted":true}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", w.Code)
	}
}

func TestParentRequestValidation(t *testing.T) {
	env := newTestEnv()
	env.verifier.user = &auth.User{ID: "user-1", Email: "sofia@example.com"}

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing username",
			body: `{"parentEmail":"parent@example.com","consentGranted":true}`,
			want: "Instagram username is required.",
		},
		{
			name: "missing parent email",
			body: `{"instagramUsername":"sofia_gram","consentGranted":true}`,
			want: "Parent email is required.",
		},
		{
			name: "consent not granted",
			body: `{"instagramUsername":"sofia_gram","parentEmail":"parent@example.com"}`,
			want: "Consent must be granted before requesting parent confirmation.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.postParentRequest(t, "valid-token", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if msg := decodeError(t, w); msg != tt.want {
				t.Errorf("expected %q, got %q", tt.want, msg)
			}
		})
	}
}

func TestParentRequestSuccess(t *testing.T) {
	env := newTestEnv()
	env.verifier.user = &auth.User{ID: "user-1", Email: "sofia@example.com"}

	w := env.postParentRequest(t, "valid-token", `{"instagramUsername":"sofia_gram","parentEmail":"parent@example.com","consentGranted":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", w.Code, w.Body.String())
	}

	if len(env.store.upserts) != 1 {
		t.Fatalf("expected one profile upsert, got %d", len(env.store.upserts))
	}
	upsert := env.store.upserts[0]
	if upsert.ID != "user-1" || upsert.IGUsername != "sofia_gram" || upsert.ParentEmail != "parent@example.com" {
		t.Errorf("unexpected upsert: %+v", upsert)
	}

	if len(env.store.insertedConfirmations) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(env.store.insertedConfirmations))
	}
	conf := env.store.insertedConfirmations[0]
	if conf.Status != store.StatusPending {
		t.Errorf("expected pending status, got %s", conf.Status)
	}
	if conf.Token == "" {
		t.Error("expected a token")
	}
	expires, err := time.Parse(time.RFC3339, conf.ExpiresAt)
	if err != nil {
		t.Fatalf("expires_at not RFC 3339: %v", err)
	}
	ttl := time.Until(expires)
	if ttl < 71*time.Hour || ttl > 73*time.Hour {
		t.Errorf("expected roughly 72h expiry, got %s", ttl)
	}

	if env.mailer.sent != 1 {
		t.Fatalf("expected parent email sent")
	}
	if env.mailer.lastTo != "parent@example.com" {
		t.Errorf("unexpected recipient: %s", env.mailer.lastTo)
	}
	wantLink := "https://app.example.com/api/parent-request/confirm?token=" + conf.Token
	if !strings.Contains(env.mailer.lastHTML, wantLink) {
		t.Errorf("expected confirmation link %s in HTML body", wantLink)
	}
	if !strings.Contains(env.mailer.lastText, wantLink) {
		t.Errorf("expected confirmation link in text body")
	}
}

func TestParentRequestMailFailure(t *testing.T) {
	env := newTestEnv()
	env.verifier.user = &auth.User{ID: "user-1"}
	env.mailer.err = http.ErrHandlerTimeout

	w := env.postParentRequest(t, "valid-token", `{"instagramUsername":"sofia_gram","parentEmail":"parent@example.com","consentGranted":true}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when the parent email fails, got %d", w.Code)
	}
}

func TestParentRequestWithVoiceSample(t *testing.T) {
	env := newTestEnv()
	env.verifier.user = &auth.User{ID: "user-1"}
	env.voices.voiceID = "cloned-001"

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	form.WriteField("instagramUsername", "sofia_gram")
	form.WriteField("parentEmail", "parent@example.com")
	form.WriteField("consentGranted", "true")
	part, err := form.CreateFormFile("voiceSample", "mom reading.mp3")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("sample-bytes"))
	form.Close()

	req := httptest.NewRequest(http.MethodPost, "/parent-request", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", w.Code, w.Body.String())
	}

	var uploaded bool
	for key, data := range env.objects.data {
		if strings.HasPrefix(key, "voice-samples/user-1/") && strings.HasSuffix(key, "-mom_reading.mp3") {
			uploaded = true
			if string(data) != "sample-bytes" {
				t.Errorf("unexpected sample body: %s", data)
			}
		}
	}
	if !uploaded {
		t.Error("expected voice sample uploaded under voice-samples/user-1/")
	}
	if env.voices.calls != 1 {
		t.Errorf("expected one voice registration, got %d", env.voices.calls)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["voiceProfileId"] != "cloned-001" {
		t.Errorf("unexpected voiceProfileId: %v", body["voiceProfileId"])
	}
	if len(env.store.upserts) != 1 || env.store.upserts[0].VoiceProfileID == nil {
		t.Error("expected voice profile ID in upsert")
	}
}

func TestParentRequestVoiceRegistrationBestEffort(t *testing.T) {
	env := newTestEnv()
	env.verifier.user = &auth.User{ID: "user-1"}
	env.voices.err = http.ErrHandlerTimeout

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	form.WriteField("instagramUsername", "sofia_gram")
	form.WriteField("parentEmail", "parent@example.com")
	form.WriteField("consentGranted", "true")
	part, _ := form.CreateFormFile("voiceSample", "sample.mp3")
	part.Write([]byte("sample-bytes"))
	form.Close()

	req := httptest.NewRequest(http.MethodPost, "/parent-request", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("voice registration failure must not fail the request, got %d", w.Code)
	}
	if env.store.upserts[0].VoiceProfileID != nil {
		t.Error("expected no voice profile ID after failed registration")
	}
	if env.store.upserts[0].VoiceSampleURL == nil {
		t.Error("expected voice sample URL still recorded")
	}
}

// --- Token confirmation page ---

func (env *testEnv) getConfirm(t *testing.T, token string) *httptest.ResponseRecorder {
	t.Helper()
	target := "/parent-request/confirm"
	if token != "" {
		target += "?token=" + token
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	return w
}

func seedConfirmation(env *testEnv, token, status, expiresAt string) {
	env.store.confirmations[token] = &store.ParentConfirmation{
		ID:          "conf-1",
		UserID:      "user-1",
		ParentEmail: "parent@example.com",
		Token:       token,
		Status:      status,
		ExpiresAt:   expiresAt,
	}
	username := "sofia_gram"
	env.store.profiles["user-1"] = &store.UserProfile{ID: "user-1", IGUsername: &username}
}

func TestConfirmToken(t *testing.T) {
	env := newTestEnv()
	expires := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	seedConfirmation(env, "tok-123", store.StatusPending, expires)

	w := env.getConfirm(t, "tok-123")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Consent confirmed!") {
		t.Error("expected success page")
	}

	profile := env.store.profiles["user-1"]
	if !profile.IsParentConfirmed {
		t.Error("expected profile marked confirmed")
	}
	if profile.ParentConfirmedAt == nil {
		t.Error("expected parent_confirmed_at set")
	}
	conf := env.store.confirmations["tok-123"]
	if conf.Status != store.StatusConfirmed {
		t.Errorf("expected confirmed status, got %s", conf.Status)
	}
	if conf.RespondedAt == nil {
		t.Error("expected responded_at set")
	}
}

func TestConfirmTokenMissing(t *testing.T) {
	env := newTestEnv()
	w := env.getConfirm(t, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Missing confirmation token") {
		t.Error("expected missing-token page")
	}
}

func TestConfirmTokenUnknown(t *testing.T) {
	env := newTestEnv()
	w := env.getConfirm(t, "ghost")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "could not find this confirmation request") {
		t.Error("expected unknown-token page")
	}
}

func TestConfirmTokenAlreadyConfirmed(t *testing.T) {
	env := newTestEnv()
	expires := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	seedConfirmation(env, "tok-123", store.StatusConfirmed, expires)

	w := env.getConfirm(t, "tok-123")
	if w.Code != http.StatusOK {
		t.Fatalf("repeat confirmation should succeed, got %d", w.Code)
	}
	if len(env.store.profilePatches["user-1"]) != 0 {
		t.Error("no profile patch expected for an already confirmed token")
	}
}

func TestConfirmTokenExpired(t *testing.T) {
	env := newTestEnv()
	expires := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	seedConfirmation(env, "tok-123", store.StatusPending, expires)

	w := env.getConfirm(t, "tok-123")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for expired token, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "expired") {
		t.Error("expected expiry page")
	}
	if env.store.profiles["user-1"].IsParentConfirmed {
		t.Error("expired token must not confirm the profile")
	}
}

// --- Direct confirmation endpoint ---

func TestConfirmParent(t *testing.T) {
	env := newTestEnv()
	username := "sofia_gram"
	env.store.profiles["user-1"] = &store.UserProfile{ID: "user-1", IGUsername: &username}

	w := env.post(t, "/confirm-parent", `{"profile_id":"user-1","parent_email":"nana@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", w.Code, w.Body.String())
	}

	var profile store.UserProfile
	if err := json.Unmarshal(w.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !profile.IsParentConfirmed {
		t.Error("expected confirmed profile returned")
	}
	if profile.ParentEmail == nil || *profile.ParentEmail != "nana@example.com" {
		t.Errorf("expected parent email updated, got %v", profile.ParentEmail)
	}
}

func TestConfirmParentValidation(t *testing.T) {
	env := newTestEnv()

	w := env.post(t, "/confirm-parent", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = env.post(t, "/confirm-parent", `{"profile_id":"ghost"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
