// Package normalize maps heterogeneous scraper payloads into canonical media
// records. Scraper responses change shape across provider versions, so each
// logical field is resolved through an ordered list of extractors with
// first-match-wins semantics.
//
// Normalization never fails: a record that resolves no source URL is returned
// with an empty SourceURL and skipped downstream instead of aborting the batch.
package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Raw is one scraper post item as decoded JSON.
type Raw map[string]interface{}

// Media is the canonical representation of one scraped post.
type Media struct {
	MediaID    string
	SourceURL  string
	Caption    string
	CapturedAt string // RFC 3339, or empty when the provider supplied nothing
}

// HasSourceURL reports whether the record resolved a downloadable URL.
func (m Media) HasSourceURL() bool {
	return m.SourceURL != ""
}

// extractor resolves one logical field from a raw item, reporting whether
// it matched.
type extractor func(Raw) (string, bool)

// Extractor priority orders. The first matching extractor wins; order is
// load-bearing because newer scraper payloads carry several of these fields
// at once with different fidelity.
var (
	idExtractors = []extractor{
		stringField("id"),
		stringField("pk"),
		stringField("code"),
	}

	urlExtractors = []extractor{
		stringField("image_url"),
		stringField("display_url"),
		stringField("media_url"),
		stringField("thumbnail_url"),
		stringField("thumbnail_src"),
		nestedImageURL,
	}

	captionExtractors = []extractor{
		stringField("caption_text"),
		stringField("caption"),
		stringField("title"),
	}

	timestampExtractors = []extractor{
		timestampField("timestamp"),
		timestampField("taken_at"),
		timestampField("created_at"),
	}
)

// Normalize maps one raw scraper item to its canonical form.
func Normalize(item Raw) Media {
	return Media{
		MediaID:    firstMatch(item, idExtractors, uuid.NewString),
		SourceURL:  firstMatch(item, urlExtractors, func() string { return "" }),
		Caption:    firstMatch(item, captionExtractors, func() string { return "" }),
		CapturedAt: firstMatch(item, timestampExtractors, func() string { return "" }),
	}
}

// firstMatch runs extractors in order and falls back when none match.
func firstMatch(item Raw, extractors []extractor, fallback func() string) string {
	for _, extract := range extractors {
		if v, ok := extract(item); ok {
			return v
		}
	}
	return fallback()
}

// stringField extracts a non-empty scalar field, stringifying numeric IDs
// the way some scraper versions deliver them.
func stringField(key string) extractor {
	return func(item Raw) (string, bool) {
		v, ok := item[key]
		if !ok || v == nil {
			return "", false
		}
		switch s := v.(type) {
		case string:
			if s == "" {
				return "", false
			}
			return s, true
		case float64:
			return fmt.Sprintf("%.0f", s), true
		case json.Number:
			return s.String(), true
		default:
			return "", false
		}
	}
}

// timestampField extracts a timestamp field. Numeric values are epoch
// seconds UTC; string values pass through unchanged.
func timestampField(key string) extractor {
	return func(item Raw) (string, bool) {
		v, ok := item[key]
		if !ok || v == nil {
			return "", false
		}
		switch t := v.(type) {
		case string:
			if t == "" {
				return "", false
			}
			return t, true
		case float64:
			return time.Unix(int64(t), 0).UTC().Format(time.RFC3339), true
		case json.Number:
			sec, err := t.Int64()
			if err != nil {
				return "", false
			}
			return time.Unix(sec, 0).UTC().Format(time.RFC3339), true
		default:
			return "", false
		}
	}
}

// nestedImageURL digs into the two nested shapes older scraper versions use:
// a top-level "images" list and the Instagram-native
// "image_versions2.candidates" list. Either way the first entry's "url" wins.
func nestedImageURL(item Raw) (string, bool) {
	if u, ok := firstURLInList(item["images"]); ok {
		return u, true
	}
	if versions, ok := item["image_versions2"].(map[string]interface{}); ok {
		if u, ok := firstURLInList(versions["candidates"]); ok {
			return u, true
		}
	}
	return "", false
}

func firstURLInList(v interface{}) (string, bool) {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return "", false
	}
	switch entry := list[0].(type) {
	case string:
		if entry != "" {
			return entry, true
		}
	case map[string]interface{}:
		if u, ok := entry["url"].(string); ok && u != "" {
			return u, true
		}
	}
	return "", false
}
