// Package config loads service configuration from the environment.
//
// Every external collaborator (Supabase, Cloudflare R2, the scraper API,
// Gemini, ElevenLabs, Mailgun) is configured here and constructed exactly
// once at startup; nothing reads the environment after Load returns.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port           int    `env:"PORT" env-default:"8080"`
	AppBaseURL     string `env:"APP_BASE_URL" env-required:"true"`
	FrontendOrigin string `env:"FRONTEND_ORIGIN" env-default:"http://localhost:3000"`

	Supabase   Supabase
	R2         R2
	Scraper    Scraper
	Gemini     Gemini
	ElevenLabs ElevenLabs
	Mailgun    Mailgun
}

// Supabase holds the PostgREST and auth endpoints plus the service-role key.
type Supabase struct {
	URL        string `env:"SUPABASE_URL" env-required:"true"`
	ServiceKey string `env:"SUPABASE_SERVICE_ROLE_KEY" env-required:"true"`
}

// R2 configures the Cloudflare R2 bucket through the S3 API.
type R2 struct {
	EndpointURL     string `env:"R2_ENDPOINT_URL" env-required:"true"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" env-required:"true"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" env-required:"true"`
	BucketName      string `env:"R2_BUCKET_NAME" env-required:"true"`
	PublicBaseURL   string `env:"R2_PUBLIC_BASE_URL" env-required:"true"`
}

type Scraper struct {
	BaseURL string `env:"SCRAPER_API_BASE_URL" env-required:"true"`
	APIKey  string `env:"SCRAPER_API_KEY" env-required:"true"`
}

// Gemini is optional: with no API key the caption generator runs in
// degraded mode and returns a placeholder caption.
type Gemini struct {
	APIKey string `env:"GEMINI_API_KEY"`
	Model  string `env:"GEMINI_MODEL" env-default:"gemini-2.5-flash"`
}

// ElevenLabs is optional: with no API key narration is skipped entirely.
type ElevenLabs struct {
	APIKey string `env:"ELEVENLABS_API_KEY"`
}

type Mailgun struct {
	APIKey    string `env:"MAILGUN_API_KEY" env-required:"true"`
	Domain    string `env:"MAILGUN_DOMAIN" env-required:"true"`
	FromEmail string `env:"MAILGUN_FROM_EMAIL" env-required:"true"`
}

// Load reads configuration from the environment. The error names the first
// missing required setting so operators can fix the deployment directly.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return &cfg, nil
}
