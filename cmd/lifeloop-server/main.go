// Command lifeloop-server runs the LifeLoop backend: Instagram ingestion,
// AI captioning and narration, and family email flows.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lifeloop/lifeloop-backend/internal/auth"
	"github.com/lifeloop/lifeloop-backend/internal/caption"
	"github.com/lifeloop/lifeloop-backend/internal/config"
	"github.com/lifeloop/lifeloop-backend/internal/httpapi"
	"github.com/lifeloop/lifeloop-backend/internal/logging"
	"github.com/lifeloop/lifeloop-backend/internal/mailer"
	"github.com/lifeloop/lifeloop-backend/internal/narration"
	"github.com/lifeloop/lifeloop-backend/internal/pipeline"
	"github.com/lifeloop/lifeloop-backend/internal/s3util"
	"github.com/lifeloop/lifeloop-backend/internal/scraper"
	"github.com/lifeloop/lifeloop-backend/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var portFlag int

var rootCmd = &cobra.Command{
	Use:   "lifeloop-server",
	Short: "LifeLoop backend API server",
	Long: `lifeloop-server runs the LifeLoop backend: it ingests a student's
Instagram media, generates AI captions and narrated audio, and emails
family members consent requests and digests.

Configuration is read from the environment; see internal/config.

Examples:
  lifeloop-server
  lifeloop-server --port 9090`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides PORT)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	bucket, err := s3util.NewBucket(ctx, s3util.Options{
		EndpointURL:     cfg.R2.EndpointURL,
		AccessKeyID:     cfg.R2.AccessKeyID,
		SecretAccessKey: cfg.R2.SecretAccessKey,
		BucketName:      cfg.R2.BucketName,
		PublicBaseURL:   cfg.R2.PublicBaseURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create R2 client")
	}

	captioner, err := caption.NewGenerator(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create caption generator")
	}

	recordStore := store.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	fetcher := scraper.NewClient(cfg.Scraper.BaseURL, cfg.Scraper.APIKey)
	narrator := narration.NewSynthesizer(cfg.ElevenLabs.APIKey)
	sender := mailer.NewSender(cfg.Mailgun.APIKey, cfg.Mailgun.Domain, cfg.Mailgun.FromEmail)
	verifier := auth.NewVerifier(cfg.Supabase.URL, cfg.Supabase.ServiceKey)

	p := pipeline.New(recordStore, fetcher, bucket, captioner, narrator)
	server := httpapi.NewServer(recordStore, p, verifier, sender, bucket, narrator, cfg.AppBaseURL)

	port := cfg.Port
	if portFlag != 0 {
		port = portFlag
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      server.Router(cfg.FrontendOrigin),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", port).Msg("Starting LifeLoop API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
