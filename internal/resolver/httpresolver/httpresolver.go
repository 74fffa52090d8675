// Package httpresolver is a concrete Resolver backed by a rotating list of
// upstream gateway URLs, each speaking a small JSON contract
// (/url, /lyric, /info, /search). It uses a tryWithFallback/rotate shape:
// each operation is tried against the current base URL and rotates to the
// next one on failure.
package httpresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"tunecache/internal/coreerr"
	"tunecache/internal/model"
)

// Gateway is a Resolver that fans requests out across a rotating set of
// base URLs, all assumed to speak the same upstream protocol. A request
// failure rotates to the next base URL before the next call.
type Gateway struct {
	source   string
	client   *http.Client
	logger   *slog.Logger
	mu       sync.RWMutex
	baseURLs []string
	current  int
}

// New builds a Gateway for source, fanning out across baseURLs in rotation.
func New(source string, baseURLs []string, logger *slog.Logger) *Gateway {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Gateway{
		source:   source,
		baseURLs: baseURLs,
		logger:   logger,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}
}

func (g *Gateway) currentBase() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.baseURLs) == 0 {
		return ""
	}
	return g.baseURLs[g.current]
}

func (g *Gateway) rotate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.baseURLs) > 0 {
		g.current = (g.current + 1) % len(g.baseURLs)
		g.logger.Info("httpresolver: rotated gateway", "source", g.source, "base", g.baseURLs[g.current])
	}
}

// tryWithFallback runs action against every configured base URL in
// rotation order, stopping at the first success.
func (g *Gateway) tryWithFallback(action func(base string) error) error {
	attempts := len(g.baseURLs)
	if attempts == 0 {
		return &coreerr.ResolverFailedError{Reason: "no gateway configured"}
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		base := g.currentBase()
		if err := action(base); err == nil {
			return nil
		} else {
			lastErr = err
			g.logger.Warn("httpresolver: gateway request failed", "source", g.source, "base", base, "err", err)
		}
		if attempt < attempts-1 {
			g.rotate()
		}
	}
	return &coreerr.ResolverFailedError{Reason: lastErr.Error()}
}

func (g *Gateway) get(ctx context.Context, base, path string, query url.Values, out any) error {
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Resolve implements resolver.Resolver.
func (g *Gateway) Resolve(ctx context.Context, songID, quality string) (model.ResolverResult, error) {
	var result model.ResolverResult
	err := g.tryWithFallback(func(base string) error {
		var body struct {
			URL     string `json:"url"`
			Quality string `json:"quality"`
		}
		q := url.Values{"id": {songID}, "quality": {quality}}
		if err := g.get(ctx, base, "/url", q, &body); err != nil {
			return err
		}
		if body.URL == "" {
			return fmt.Errorf("empty url in gateway response")
		}
		result = model.ResolverResult{URL: body.URL, Quality: body.Quality}
		return nil
	})
	if err != nil {
		return model.ResolverResult{}, err
	}
	return result, nil
}

// Lyric implements resolver.Resolver.
func (g *Gateway) Lyric(ctx context.Context, songID string) (string, error) {
	var text string
	err := g.tryWithFallback(func(base string) error {
		var body struct {
			Text string `json:"text"`
		}
		q := url.Values{"id": {songID}}
		if err := g.get(ctx, base, "/lyric", q, &body); err != nil {
			return err
		}
		text = body.Text
		return nil
	})
	return text, err
}

// Info implements resolver.Resolver.
func (g *Gateway) Info(ctx context.Context, songID string) (model.InfoEntry, error) {
	var info model.InfoEntry
	err := g.tryWithFallback(func(base string) error {
		q := url.Values{"id": {songID}}
		return g.get(ctx, base, "/info", q, &info)
	})
	return info, err
}

// Search implements resolver.Resolver.
func (g *Gateway) Search(ctx context.Context, query string) (any, error) {
	var result any
	err := g.tryWithFallback(func(base string) error {
		q := url.Values{"q": {query}}
		return g.get(ctx, base, "/search", q, &result)
	})
	return result, err
}
