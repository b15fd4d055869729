package mailer

import (
	"fmt"
	"html/template"
	"strings"
	"time"
)

// DigestItem is one media entry rendered into the digest email.
type DigestItem struct {
	Caption     string
	ImageURL    string
	AudioURL    string
	ProcessedAt string // RFC 3339; rendered as "January 02, 2006"
}

// digestEntry is the template view of a DigestItem with fallbacks applied.
type digestEntry struct {
	Caption   string
	ImageURL  string
	AudioURL  string
	DateLabel string
	IntroName string
}

const digestPlaceholder = "No new memories yet, but we are ready to capture the next moment."

var digestTemplate = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>LifeLoop Legacy Digest</title>
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
</head>
<body style="margin: 0; background-color: #f4f5fb; font-family: 'Helvetica Neue', Arial, sans-serif;">
  <table role="presentation" cellpadding="0" cellspacing="0" border="0" width="100%">
    <tr>
      <td align="center" style="padding: 32px;">
        <table width="600" cellpadding="0" cellspacing="0" style="background-color: #ffffff; border-radius: 16px; overflow: hidden;">
          <tr>
            <td style="padding: 32px; text-align: center; background-color: #6C63FF; color: #ffffff;">
              <h1 style="margin: 0; font-size: 28px;">LifeLoop Legacy Digest</h1>
              <p style="margin: 12px 0 0; font-size: 16px;">
                Fresh highlights from {{.IntroName}}'s story so everyone stays connected.
              </p>
            </td>
          </tr>
{{- if .Entries}}
{{- range .Entries}}
          <tr>
            <td style="padding: 16px; border-bottom: 1px solid #e4e7ec;">
              <div style="font-size: 14px; color: #475467; margin-bottom: 8px;">{{.DateLabel}}</div>
              <img src="{{.ImageURL}}" alt="Latest memory from {{.IntroName}}" style="width: 100%; border-radius: 12px; object-fit: cover;" />
              <p style="margin: 12px 0; font-size: 16px; color: #344054; line-height: 1.4;">{{.Caption}}</p>
{{- if .AudioURL}}
              <p style="margin: 8px 0;">
                <strong>Listen:</strong>
                <a href="{{.AudioURL}}" style="color: #6C63FF; text-decoration: underline;">Play narrated update</a>
              </p>
              <audio controls style="width: 100%; margin-top: 8px;">
                <source src="{{.AudioURL}}" type="audio/mpeg" />
                <p>Your device cannot play the audio clip. Download it <a href="{{.AudioURL}}">here</a>.</p>
              </audio>
{{- end}}
            </td>
          </tr>
{{- end}}
{{- else}}
          <tr>
            <td style="padding: 32px; text-align: center; color: #667085;">
              ` + digestPlaceholder + `
            </td>
          </tr>
{{- end}}
          <tr>
            <td style="padding: 24px; background-color: #f8f9ff; color: #475467; font-size: 14px;">
              <p style="margin: 0 0 12px;">
                LifeLoop bridges students, parents, and grandparents with narrated memories, AI captions, and keepsakes.
              </p>
              <p style="margin: 0; font-size: 13px; color: #98A2B3;">
                Future roadmap: printable photobooks, facial recognition tagging, and automated Instagram archive imports.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>
`))

var inviteTemplate = template.Must(template.New("invite").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Confirm LifeLoop Updates for {{.IntroName}}</title>
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
</head>
<body style="margin:0; background-color:#f4f5fb; font-family:'Helvetica Neue',Arial,sans-serif; color:#1f2933;">
  <table role="presentation" cellpadding="0" cellspacing="0" border="0" width="100%">
    <tr>
      <td align="center" style="padding:32px;">
        <table width="600" cellpadding="0" cellspacing="0" style="background-color:#ffffff; border-radius:16px; overflow:hidden;">
          <tr>
            <td style="padding:32px; background-color:#6C63FF; color:#ffffff;">
              <h1 style="margin:0; font-size:26px;">Help {{.IntroName}} preserve their legacy</h1>
              <p style="margin:12px 0 0; font-size:16px;">
                LifeLoop bridges students, parents, and grandparents with curated memories and narrated highlights.
              </p>
            </td>
          </tr>
          <tr>
            <td style="padding:28px 32px;">
              <p style="margin:0 0 16px; font-size:16px; line-height:1.6;">
                {{.IntroName}} invited you to receive warm recaps of their campus journey. With your permission,
                LifeLoop will safely collect public Instagram posts, craft AI captions, and share optional narrated updates
                so grandparents stay in the loop.
              </p>
{{- if .IGUsername}}
              <p style="margin:12px 0 0; font-size:15px; color:#475467;">
                Instagram handle on file: <strong>@{{.IGUsername}}</strong>
              </p>
{{- end}}
              <p style="margin:20px 0 24px; font-size:15px; color:#475467;">
                To approve and keep the family connected, please confirm your consent below.
              </p>
              <p style="margin:0;">
                <a href="{{.ConfirmationURL}}" style="display:inline-block; padding:14px 28px; background-color:#6C63FF; color:#ffffff; text-decoration:none; border-radius:8px; font-weight:600;">
                  Confirm &amp; Start Receiving Updates
                </a>
              </p>
              <p style="margin:24px 0 0; font-size:13px; color:#98A2B3; line-height:1.5;">
                By confirming, you acknowledge that LifeLoop will cache a copy of shared posts for family viewing.
                You can revoke access at any time and we will remove stored content.
              </p>
            </td>
          </tr>
          <tr>
            <td style="padding:24px; background-color:#f8f9ff; font-size:13px; color:#667085;">
              <p style="margin:0;">
                Questions? Reply to this email or contact the LifeLoop team.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>
`))

// RenderDigest renders the HTML digest email. An empty item list produces the
// "no new memories yet" placeholder block.
func RenderDigest(items []DigestItem, studentName string) (string, error) {
	introName := studentName
	if introName == "" {
		introName = "your student"
	}

	entries := make([]digestEntry, 0, len(items))
	for _, item := range items {
		entry := digestEntry{
			Caption:   item.Caption,
			ImageURL:  item.ImageURL,
			AudioURL:  item.AudioURL,
			DateLabel: formatDateLabel(item.ProcessedAt),
			IntroName: introName,
		}
		if entry.Caption == "" {
			entry.Caption = "We captured a new moment for your family archive."
		}
		if entry.ImageURL == "" {
			entry.ImageURL = "#"
		}
		entries = append(entries, entry)
	}

	var buf strings.Builder
	err := digestTemplate.Execute(&buf, struct {
		IntroName string
		Entries   []digestEntry
	}{IntroName: introName, Entries: entries})
	if err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}

// RenderParentInvite renders the HTML consent-request email.
func RenderParentInvite(studentName, igUsername, confirmationURL string) (string, error) {
	introName := studentName
	if introName == "" {
		introName = "your student"
	}

	var buf strings.Builder
	err := inviteTemplate.Execute(&buf, struct {
		IntroName       string
		IGUsername      string
		ConfirmationURL string
	}{IntroName: introName, IGUsername: igUsername, ConfirmationURL: confirmationURL})
	if err != nil {
		return "", fmt.Errorf("render invite: %w", err)
	}
	return buf.String(), nil
}

// ParentInviteText builds the plain-text alternative for the consent email.
func ParentInviteText(igUsername, confirmationURL string) string {
	return strings.Join([]string{
		"Hi there,",
		"",
		fmt.Sprintf("%s has invited you to join LifeLoop so your family can relive highlights together.", igUsername),
		"Please confirm that you're happy for us to sync their Instagram posts and share narrated updates.",
		"",
		"Confirm consent: " + confirmationURL,
		"",
		"Thanks for helping us preserve your family's legacy!",
	}, "\n")
}

// formatDateLabel renders an RFC 3339 timestamp as "January 02, 2006",
// falling back to the raw value when it does not parse.
func formatDateLabel(ts string) string {
	if ts == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return parsed.Format("January 02, 2006")
}
