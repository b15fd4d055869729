// Package caption generates AI captions for ingested media with Gemini.
//
// The generator has a deliberate degraded mode: when no Gemini API key is
// configured it returns a fixed placeholder caption instead of failing, so
// the rest of the pipeline (storage, narration, digests) stays exercisable
// in environments without AI credentials.
package caption

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the Gemini model used when none is configured.
	DefaultModel = "gemini-2.5-flash"

	// instruction is the fixed single-turn prompt sent alongside the image.
	instruction = "Write a warm, specific caption of one or two sentences describing this photo " +
		"for a family memory archive. Address the family directly, mention what is happening " +
		"in the image, and reply with the caption text only."

	// PlaceholderCaption is returned in degraded mode (no API key configured).
	PlaceholderCaption = "A new memory captured for your family archive."

	// PlaceholderConfidence is the confidence reported in degraded mode.
	PlaceholderConfidence = 0.5

	// defaultConfidence is used when the model returns no safety ratings.
	defaultConfidence = 0.85
)

// probabilityScores maps categorical safety labels to fixed confidence
// contributions. Labels outside the table score 0.60.
var probabilityScores = map[string]float64{
	"NEGLIGIBLE":    0.95,
	"VERY_UNLIKELY": 0.90,
	"UNLIKELY":      0.75,
	"POSSIBLE":      0.60,
	"LIKELY":        0.40,
	"VERY_LIKELY":   0.25,
}

const unknownProbabilityScore = 0.60

// Generator produces captions for image bytes. A nil client means degraded
// mode; construct through NewGenerator.
type Generator struct {
	client *genai.Client
	model  string
}

// NewGenerator creates a caption generator. An empty apiKey is not an error:
// the generator is returned in degraded mode.
func NewGenerator(ctx context.Context, apiKey, model string) (*Generator, error) {
	if model == "" {
		model = DefaultModel
	}
	if apiKey == "" {
		log.Warn().Msg("GEMINI_API_KEY not configured; caption generator running in degraded mode")
		return &Generator{model: model}, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &Generator{client: client, model: model}, nil
}

// Caption sends the image to Gemini and returns the caption text plus a
// confidence in [0,1] derived from the response's safety ratings. An empty
// caption from the model is an error for that item.
func (g *Generator) Caption(ctx context.Context, image []byte, mimeType string) (string, float64, error) {
	if g.client == nil {
		return PlaceholderCaption, PlaceholderConfidence, nil
	}

	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
		{Text: instruction},
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}

	log.Debug().Str("model", g.model).Int("imageBytes", len(image)).Msg("Requesting caption from Gemini")
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", 0, fmt.Errorf("generate caption: %w", err)
	}
	if resp == nil {
		return "", 0, fmt.Errorf("empty response from Gemini")
	}

	text := cleanCaption(resp.Text())
	if text == "" {
		return "", 0, fmt.Errorf("Gemini returned no caption text")
	}

	confidence := confidenceFromResponse(resp)
	log.Debug().Int("captionLength", len(text)).Float64("confidence", confidence).Msg("Caption generated")
	return text, confidence, nil
}

// confidenceFromResponse averages the per-category safety scores of the
// first candidate. No ratings at all means the fixed default confidence.
func confidenceFromResponse(resp *genai.GenerateContentResponse) float64 {
	if len(resp.Candidates) == 0 {
		return defaultConfidence
	}
	return confidenceFromRatings(resp.Candidates[0].SafetyRatings)
}

func confidenceFromRatings(ratings []*genai.SafetyRating) float64 {
	if len(ratings) == 0 {
		return defaultConfidence
	}

	var sum float64
	for _, rating := range ratings {
		score, ok := probabilityScores[string(rating.Probability)]
		if !ok {
			score = unknownProbabilityScore
		}
		sum += score
	}

	confidence := sum / float64(len(ratings))
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// cleanCaption strips whitespace, markdown fences, and wrapping quotes the
// model occasionally adds despite the instruction.
func cleanCaption(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) >= 3 {
			end := len(lines) - 1
			for i := len(lines) - 1; i >= 0; i-- {
				if strings.TrimSpace(lines[i]) == "```" {
					end = i
					break
				}
			}
			text = strings.TrimSpace(strings.Join(lines[1:end], "\n"))
		}
	}
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	return strings.TrimSpace(text)
}
