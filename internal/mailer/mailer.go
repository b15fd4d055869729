// Package mailer sends LifeLoop transactional email through the Mailgun
// messages API and renders the HTML bodies for the two email kinds the
// service produces: parent consent requests and family digests.
package mailer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL = "https://api.mailgun.net"

	// defaultTimeout is the HTTP client timeout for Mailgun calls.
	defaultTimeout = 30 * time.Second
)

// Sender delivers email through Mailgun.
type Sender struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	domain     string
	fromEmail  string
}

// NewSender creates a Mailgun sender for the configured domain.
func NewSender(apiKey, domain, fromEmail string) *Sender {
	return &Sender{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		domain:     domain,
		fromEmail:  fromEmail,
	}
}

// Send delivers one message with both text and HTML bodies. Any Mailgun
// failure is returned as an error; the service treats it as an upstream
// (502-class) failure since these are single-shot flows.
func (s *Sender) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	form := url.Values{
		"from":    {s.fromEmail},
		"to":      {to},
		"subject": {subject},
		"text":    {textBody},
		"html":    {htmlBody},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v3/"+s.domain+"/messages", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth("api", s.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read mailgun response: %w", err)
	}

	log.Debug().
		Str("to", to).
		Int("statusCode", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Mailgun response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mailgun returned status %d (body: %s)",
			resp.StatusCode, truncate(string(body), 200))
	}

	log.Info().Str("to", to).Str("subject", subject).Msg("Email sent")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
