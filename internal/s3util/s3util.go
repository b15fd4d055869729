// Package s3util stores binary assets in the Cloudflare R2 bucket through
// the S3 API. All writes are idempotent full-object overwrites, so retrying
// an ingest that already uploaded a key is harmless.
package s3util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Get when the key does not exist in the bucket.
var ErrNotFound = errors.New("s3util: object not found")

// Bucket is an R2 bucket handle constructed once at startup.
type Bucket struct {
	client        *s3.Client
	bucketName    string
	publicBaseURL string
}

// Options configures the R2 connection.
type Options struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicBaseURL   string
}

// NewBucket creates an S3 client against the R2 endpoint. R2 ignores the
// region but the SDK requires one; "auto" matches Cloudflare's convention.
func NewBucket(ctx context.Context, opts Options) (*Bucket, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.EndpointURL)
		o.UsePathStyle = true
	})

	return &Bucket{
		client:        client,
		bucketName:    opts.BucketName,
		publicBaseURL: strings.TrimSuffix(opts.PublicBaseURL, "/"),
	}, nil
}

// Put writes data under key, overwriting any existing object.
func (b *Bucket) Put(ctx context.Context, key, contentType string, data []byte) error {
	log.Debug().Str("key", key).Int("size", len(data)).Msg("Uploading object to R2")
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &b.bucketName,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	return nil
}

// Get fetches an object and its stored content type. Keys without a stored
// content type default to image/jpeg, matching the bucket's dominant content.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, string, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &b.bucketName,
		Key:    &key,
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s: %w", key, err)
	}

	contentType := "image/jpeg"
	if result.ContentType != nil && *result.ContentType != "" {
		contentType = *result.ContentType
	}
	return data, contentType, nil
}

// PublicURL returns the public-base URL for a stored key.
func (b *Bucket) PublicURL(key string) string {
	return b.publicBaseURL + "/" + key
}

// --- Key schemes ---

// MediaKey builds the object key for an ingested Instagram post.
func MediaKey(owner, mediaID, contentType string) string {
	return fmt.Sprintf("instagram/%s/%s.%s", owner, mediaID, extensionFor(contentType))
}

// NarrationKey builds the object key for a narrated audio clip.
func NarrationKey(recordID, contentType string) string {
	ext := ".wav"
	if contentType == "audio/mpeg" {
		ext = ".mp3"
	}
	return "narrations/" + recordID + ext
}

// VoiceSampleKey builds the object key for an uploaded voice sample.
// Whitespace in the filename is collapsed to underscores; the epoch prefix
// keeps re-uploads from clobbering earlier samples.
func VoiceSampleKey(userID, filename string, now time.Time) string {
	if filename == "" {
		filename = "voice-sample"
	}
	sanitized := strings.Join(strings.Fields(filename), "_")
	return fmt.Sprintf("voice-samples/%s/%d-%s", userID, now.UnixMilli(), sanitized)
}

// extensionFor derives a file extension from the MIME subtype,
// normalizing jpeg to jpg.
func extensionFor(contentType string) string {
	_, subtype, ok := strings.Cut(contentType, "/")
	if !ok || subtype == "" {
		return "jpg"
	}
	// Strip structured-syntax suffixes like "svg+xml".
	if base, _, found := strings.Cut(subtype, "+"); found {
		subtype = base
	}
	if subtype == "jpeg" {
		return "jpg"
	}
	return subtype
}
