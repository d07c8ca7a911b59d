// Package textextract pulls plain text out of uploaded documents so the
// answer engine can retrieve against it. Text-like files are decoded
// directly; binary formats (PDF, Office) go through an Apache Tika server
// when one is configured.
package textextract

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const defaultTimeout = 30 * time.Second

// tikaMimeTypes are the binary formats handed to Tika.
var tikaMimeTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-powerpoint":                                     true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/rtf": true,
}

// Config holds the extraction configuration.
type Config struct {
	// TikaServerURL is the URL of a running Tika server, e.g.
	// http://localhost:9998. Empty disables Tika; only text-like files are
	// extracted then.
	TikaServerURL string
	// Timeout bounds a single Tika request.
	Timeout time.Duration
}

// Extractor turns uploaded file content into plain text.
type Extractor struct {
	config *Config
	client *http.Client
}

// New creates an extractor. A nil config means text-only extraction.
func New(config *Config) *Extractor {
	if config == nil {
		config = &Config{}
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Extractor{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

// CanExtract reports whether Extract can produce text for the content type.
func (e *Extractor) CanExtract(contentType string) bool {
	if isTextContentType(contentType) {
		return true
	}
	return e.config.TikaServerURL != "" && tikaMimeTypes[normalizeContentType(contentType)]
}

// Extract returns the plain text of content. Unsupported content types
// yield an empty string and no error; the document is stored either way,
// it just cannot be retrieved against.
func (e *Extractor) Extract(ctx context.Context, content []byte, contentType string) (string, error) {
	if isTextContentType(contentType) && utf8.Valid(content) {
		return strings.TrimSpace(string(content)), nil
	}
	if e.config.TikaServerURL != "" && tikaMimeTypes[normalizeContentType(contentType)] {
		return e.extractWithTika(ctx, content, contentType)
	}
	return "", nil
}

// extractWithTika sends content to the Tika server's /tika endpoint.
func (e *Extractor) extractWithTika(ctx context.Context, content []byte, contentType string) (string, error) {
	url := strings.TrimRight(e.config.TikaServerURL, "/") + "/tika"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(content))
	if err != nil {
		return "", errors.Wrap(err, "failed to build tika request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/plain")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "tika request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("tika returned status %d", resp.StatusCode)
	}
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read tika response")
	}
	return strings.TrimSpace(string(text)), nil
}

// normalizeContentType strips parameters like charset.
func normalizeContentType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(strings.ToLower(contentType))
}

func isTextContentType(contentType string) bool {
	normalized := normalizeContentType(contentType)
	switch {
	case strings.HasPrefix(normalized, "text/"):
		return true
	case normalized == "application/json", normalized == "application/xml":
		return true
	}
	return false
}
