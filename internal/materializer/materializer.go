// Package materializer implements the Materializer: it downloads a
// resolved playback URL to disk and, once the file is complete, invokes
// the Metadata Embedder over it. Downloads are plain chunked HTTP GETs
// written to a temp file and atomically renamed into place.
package materializer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"tunecache/internal/model"
	"tunecache/internal/store"
	"tunecache/internal/tagwriter"
)

// chunkSize is the bounded write granularity the spec calls for (~64 KiB).
const chunkSize = 64 * 1024

// RetryPolicy parameterizes the Materializer's retry shape instead of
// hard-coding it, per the design note that the retry count and delay must
// not be literal constants.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the specified "up to 3 attempts total" with a
// short exponential-ish backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Materializer downloads audio bytes and embeds metadata once they land.
type Materializer struct {
	Store  *store.Store
	Retry  RetryPolicy
	client *http.Client
	logger *slog.Logger
}

// New builds a Materializer backed by the given Artifact Store.
func New(artifactStore *store.Store, retry RetryPolicy, logger *slog.Logger) *Materializer {
	return &Materializer{
		Store:  artifactStore,
		Retry:  retry,
		client: &http.Client{Timeout: 5 * time.Minute},
		logger: logger,
	}
}

// Materialize downloads remoteURL to the cache directory under key's
// filename, registers it with the Artifact Store, and embeds whatever
// metadata is supplied. It never returns an error to a caller that is
// merely trying to warm the cache in the background -- all failures are
// logged and swallowed; the return value exists only so a synchronous
// caller (the fallback-success path) can observe whether the file ended up
// on disk.
func (m *Materializer) Materialize(ctx context.Context, key model.ArtifactKey, remoteURL string, info *model.InfoEntry, lyric string, coverPath string) error {
	key = key.Normalize()
	ext := ExtensionFromURL(remoteURL, ".mp3")
	basename := fmt.Sprintf("%s_%s_%s%s", key.Source, key.SongID, key.Quality, ext)
	target := filepath.Join(m.Store.Dir(), basename)

	if _, err := os.Stat(target); err == nil {
		m.Store.Put(key, target)
		return nil
	}

	if err := m.download(ctx, remoteURL, target); err != nil {
		m.logger.Warn("materializer: download failed", "key", key, "err", err)
		return err
	}
	m.Store.Put(key, target)

	coverBytes := loadCoverBytes(coverPath)
	if err := tagwriter.Embed(target, info, lyric, coverBytes); err != nil {
		m.logger.Warn("materializer: metadata embed failed", "path", target, "err", err)
	}
	return nil
}

func (m *Materializer) download(ctx context.Context, remoteURL, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= m.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.Retry.BaseDelay * time.Duration(attempt-1)):
			}
		}
		if err := m.downloadOnce(ctx, remoteURL, target); err != nil {
			lastErr = err
			m.logger.Warn("materializer: attempt failed", "attempt", attempt, "err", err)
			continue
		}
		return nil
	}
	return lastErr
}

func (m *Materializer) downloadOnce(ctx context.Context, remoteURL, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	tmp, err := renameio.TempFile("", target)
	if err != nil {
		return err
	}
	defer tmp.Cleanup()

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(tmp, resp.Body, buf); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ExtensionFromURL returns the file extension implied by remoteURL's path,
// or fallback if it has none.
func ExtensionFromURL(remoteURL, fallback string) string {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return fallback
	}
	ext := filepath.Ext(u.Path)
	if ext == "" {
		return fallback
	}
	return ext
}

func loadCoverBytes(coverPath string) []byte {
	if coverPath == "" {
		return nil
	}
	data, err := os.ReadFile(coverPath)
	if err != nil {
		return nil
	}
	return data
}
