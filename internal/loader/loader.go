// Package loader fetches source documents from URLs and local files.
package loader

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/domain"
)

// MaxBodyBytes caps the size of a remote document. Larger bodies fail to
// load rather than being truncated.
const MaxBodyBytes = 10 << 20

var errTooLarge = errors.New("document too large")

// Loader implements domain.SourceLoader for http(s) URLs and local paths.
type Loader struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a loader whose HTTP requests time out after timeout.
func New(timeout time.Duration, logger *zap.Logger) *Loader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		client:    &http.Client{Timeout: timeout},
		userAgent: "ragchat/1.0",
		maxBytes:  MaxBodyBytes,
		logger:    logger,
		now:       time.Now,
	}
}

// DocumentID derives a stable document id from its source identifier.
func DocumentID(source string) string {
	h := sha1.Sum([]byte(source))
	return hex.EncodeToString(h[:8])
}

// IsURL reports whether source is fetched over HTTP.
func IsURL(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Expand resolves glob patterns among local sources. URLs and paths that match
// nothing are passed through so their failure is reported by Load.
func Expand(sources []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(sources))
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if IsURL(s) {
			add(s)
			continue
		}
		matches, _ := filepath.Glob(s)
		if len(matches) == 0 {
			add(s)
			continue
		}
		for _, m := range matches {
			add(m)
		}
	}
	return out
}

// Load fetches one source. Failures wrap domain.ErrDocumentLoad.
func (l *Loader) Load(ctx context.Context, source string) (domain.Document, error) {
	var (
		content string
		err     error
	)
	if IsURL(source) {
		content, err = l.fetch(ctx, source)
	} else {
		content, err = readFile(ctx, source)
	}
	if err != nil {
		if ctx.Err() != nil {
			return domain.Document{}, ctx.Err()
		}
		return domain.Document{}, fmt.Errorf("%w: %s: %w", domain.ErrDocumentLoad, source, err)
	}
	l.logger.Debug("loaded document", zap.String("source", source), zap.Int("bytes", len(content)))
	return domain.Document{
		ID:        DocumentID(source),
		Source:    source,
		Content:   content,
		FetchedAt: l.now(),
	}, nil
}

func (l *Loader) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", l.userAgent)
	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(body)) > l.maxBytes {
		return "", fmt.Errorf("%w: body exceeds %d bytes", errTooLarge, l.maxBytes)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		return HTMLToText(strings.NewReader(string(body)))
	}
	return string(body), nil
}

func readFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return HTMLToText(strings.NewReader(string(data)))
	}
	return string(data), nil
}
