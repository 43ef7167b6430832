package agent

import (
	"bytes"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/EdibleTuber/Mother/internal/providers"
)

const (
	maxInlineImageBytes = 10 * 1024 * 1024
	// Longest edge the vision models make use of; bigger inputs only burn
	// tokens, so they are resized down before encoding.
	maxImageDimension = 1568
	resizeJPEGQuality = 85
)

// LoadAttachedImages reads downloaded attachment files and returns the ones
// that are images as base64 payloads for the user message. Files still in
// the download queue (or failed downloads) are skipped with a warning.
func LoadAttachedImages(logger *slog.Logger, paths []string) []providers.ImageContent {
	if logger == nil {
		logger = slog.Default()
	}
	var images []providers.ImageContent
	for _, p := range paths {
		mime := attachmentImageMime(p)
		if mime == "" {
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			logger.Warn("attachment not readable yet, skipping", "path", p, "error", err)
			continue
		}
		if len(data) > maxInlineImageBytes {
			logger.Warn("attachment too large for vision, skipping", "path", p, "size", len(data))
			continue
		}

		if mime != "image/gif" {
			if resized, rmime, ok := downscale(data); ok {
				data, mime = resized, rmime
			}
		}

		images = append(images, providers.ImageContent{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return images
}

func attachmentImageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}

// downscale re-encodes images whose longest edge exceeds the model-useful
// maximum. Animated formats are passed through by the caller; decode
// failures fall back to the original bytes.
func downscale(data []byte) ([]byte, string, bool) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", false
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxImageDimension && bounds.Dy() <= maxImageDimension {
		return nil, "", false
	}

	fitted := imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(resizeJPEGQuality)); err != nil {
		return nil, "", false
	}
	return buf.Bytes(), "image/jpeg", true
}
