package normalize

import (
	"bytes"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// CapturedAtFromEXIF recovers a capture timestamp from the EXIF metadata of
// downloaded image bytes. It is the fallback for scraper payloads that carry
// no timestamp field at all.
//
// Priority: DateTimeOriginal > CreateDate. Returns ("", false) for images
// without usable EXIF data; non-image bytes never produce an error, only a
// miss.
func CapturedAtFromEXIF(data []byte) (string, bool) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata in downloaded image")
		return "", false
	}

	if ts := exifData.DateTimeOriginal(); !ts.IsZero() {
		return ts.UTC().Format(time.RFC3339), true
	}
	if ts := exifData.CreateDate(); !ts.IsZero() {
		return ts.UTC().Format(time.RFC3339), true
	}
	return "", false
}
