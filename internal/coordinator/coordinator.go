// Package coordinator implements the Coordinator: the single entry point
// for url/lyric/info/search/other requests, composing the Artifact Store,
// KV Cache, Resolver Registry, Fallback Runner, and Materializer behind a
// fixed response envelope.
package coordinator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"tunecache/internal/coreerr"
	"tunecache/internal/kv"
	"tunecache/internal/materializer"
	"tunecache/internal/model"
	"tunecache/internal/resolver"
	"tunecache/internal/store"
)

// lyricTTL is the default cache lifetime for resolver-sourced lyric text.
const lyricTTL = 3 * 24 * time.Hour

// ttlRule is one row of sourceTTLTable, the per-source freshness table every
// cached URLEntry is governed by. Sources not present there are treated as
// non-expiring.
type ttlRule struct {
	CanExpire bool
	TTL       time.Duration
}

var sourceTTLTable = map[string]ttlRule{
	"kg": {CanExpire: true, TTL: 86400 * time.Second},
	"kw": {CanExpire: true, TTL: 3600 * time.Second},
	"wy": {CanExpire: true, TTL: 1200 * time.Second},
	"tx": {CanExpire: true, TTL: 80400 * time.Second},
	"mg": {CanExpire: false, TTL: 0},
}

// FallbackAdapter is the capability the Coordinator depends on to try
// external adapter scripts after the source's resolver has failed. The
// subprocess-based Runner in internal/fallback is the only concrete
// implementation wired up today.
type FallbackAdapter interface {
	TryResolve(ctx context.Context, source, songID, quality string, info model.InfoEntry) (model.ResolverResult, bool)
}

// Coordinator is the system's single entry point. Construct with New; the
// required build order is KV -> ArtifactStore -> ResolverRegistry ->
// Coordinator, matching the design note that these are the only
// process-wide mutable handles and must be threaded explicitly rather than
// held in package globals.
type Coordinator struct {
	kv           *kv.Store
	artifacts    *store.Store
	registry     *resolver.Registry
	materializer *materializer.Materializer
	fallback     FallbackAdapter
	logger       *slog.Logger

	// backgroundCtx outlives any individual request; background jobs are
	// bound to it so a cancelled request never cancels the job it spawned.
	backgroundCtx context.Context

	inflight *inFlightSet
}

// New builds a Coordinator. backgroundCtx should be cancelled only on
// process shutdown.
func New(
	kvStore *kv.Store,
	artifacts *store.Store,
	registry *resolver.Registry,
	mat *materializer.Materializer,
	fallback FallbackAdapter,
	backgroundCtx context.Context,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		kv:            kvStore,
		artifacts:     artifacts,
		registry:      registry,
		materializer:  mat,
		fallback:      fallback,
		logger:        logger,
		backgroundCtx: backgroundCtx,
		inflight:      newInFlightSet(),
	}
}

func urlCacheKey(key model.ArtifactKey) string {
	return key.Source + "/" + key.SongID + "/" + key.Quality
}

func songCacheKey(sk model.SongKey) string {
	return sk.Source + "/" + sk.SongID
}

// URL implements the `url(source, songId, quality)` operation.
func (c *Coordinator) URL(ctx context.Context, source, songID, quality, clientInfoB64, clientLyricB64 string) Envelope {
	if quality == "" {
		return failure(coreerr.CodeResolutionError, (&coreerr.QualityMissingError{}).Error())
	}
	if source == "kg" {
		songID = strings.ToLower(songID)
	}
	songKey := model.SongKey{Source: source, SongID: songID}
	key := model.ArtifactKey{Source: source, SongID: songID, Quality: quality}

	c.ingestClientMetadata(ctx, songKey, clientInfoB64, clientLyricB64)

	if path, served, hit := c.artifacts.Lookup(key); hit {
		c.scheduleMetadataJob(songKey)
		extra := map[string]any{
			"cache":     true,
			"localfile": true,
			"quality":   map[string]string{"target": quality, "result": served},
		}
		return success(fmt.Sprintf("/cache/%s", filepath.Base(path)), extra)
	}

	var cached model.URLEntry
	if hit, err := c.kv.Get(ctx, kv.NamespaceURLs, urlCacheKey(key), &cached); err != nil {
		c.logger.Error("coordinator: kv get urls failed", "err", err)
	} else if hit {
		c.scheduleMetadataJob(songKey)
		extra := map[string]any{
			"cache":   true,
			"quality": map[string]string{"target": quality, "result": quality},
		}
		if cached.CanExpire {
			rule := sourceTTLTable[source]
			clientVisible := cached.ExpireAt.Add(time.Duration(float64(rule.TTL) * 0.25))
			extra["expire"] = map[string]any{"time": clientVisible.Unix(), "canExpire": true}
		} else {
			extra["expire"] = map[string]any{"canExpire": false}
		}
		return success(cached.URL, extra)
	}

	res, found := c.registry.Lookup(source)
	if !found {
		return failure(coreerr.CodeUnknown, (&coreerr.UnknownSourceError{Source: source}).Error())
	}

	result, err := res.Resolve(ctx, songID, quality)
	if err == nil {
		rule, known := sourceTTLTable[source]
		var ttl time.Duration
		if known && rule.CanExpire {
			ttl = time.Duration(float64(rule.TTL) * 0.75)
		}
		entry := model.NewURLEntry(result.URL, time.Now(), ttl)
		if putErr := c.kv.Put(ctx, kv.NamespaceURLs, urlCacheKey(key), entry, ttl); putErr != nil {
			c.logger.Error("coordinator: kv put urls failed", "err", putErr)
		}

		go c.materializer.Materialize(c.backgroundCtx, key, result.URL, nil, "", "")
		c.scheduleMetadataJob(songKey)

		extra := map[string]any{
			"cache":   false,
			"quality": map[string]string{"target": quality, "result": result.Quality},
		}
		if entry.CanExpire {
			extra["expire"] = map[string]any{"time": entry.ExpireAt.Unix(), "canExpire": true}
		} else {
			extra["expire"] = map[string]any{"canExpire": false}
		}
		return success(result.URL, extra)
	}

	var resolverFailed *coreerr.ResolverFailedError
	if !errors.As(err, &resolverFailed) {
		c.logger.Error("coordinator: unexpected resolver error", "source", source, "err", err)
		return failure(coreerr.CodeServerError, err.Error())
	}

	if c.fallback == nil {
		return failure(coreerr.CodeResolutionError, resolverFailed.Reason)
	}

	info := c.currentInfo(ctx, songKey)
	fbResult, fbOK := c.fallback.TryResolve(ctx, source, songID, quality, info)
	if !fbOK {
		return failure(coreerr.CodeResolutionError, resolverFailed.Reason)
	}

	// Fallback success materializes synchronously so the response's
	// implied cache is warm by the time it returns.
	_ = c.materializer.Materialize(ctx, key, fbResult.URL, nil, "", "")
	c.scheduleMetadataJob(songKey)

	entry := model.NewURLEntry(fbResult.URL, time.Now(), 0)
	if putErr := c.kv.Put(ctx, kv.NamespaceURLs, urlCacheKey(key), entry, 0); putErr != nil {
		c.logger.Error("coordinator: kv put urls (fallback) failed", "err", putErr)
	}

	resultQuality := fbResult.Quality
	if resultQuality == "" {
		resultQuality = quality
	}
	return success(fbResult.URL, map[string]any{
		"cache":    false,
		"fallback": "externalScript",
		"quality":  map[string]string{"target": quality, "result": resultQuality},
		"expire":   map[string]any{"canExpire": false},
	})
}

// Lyric implements the `lyric(source, songId)` operation.
func (c *Coordinator) Lyric(ctx context.Context, source, songID string) Envelope {
	if source == "kg" {
		songID = strings.ToLower(songID)
	}
	songKey := model.SongKey{Source: source, SongID: songID}

	var cached model.LyricEntry
	if hit, err := c.kv.Get(ctx, kv.NamespaceLyric, songCacheKey(songKey), &cached); err != nil {
		c.logger.Error("coordinator: kv get lyric failed", "err", err)
	} else if hit {
		return success(cached.Text, nil)
	}

	res, found := c.registry.Lookup(source)
	if !found {
		return failure(coreerr.CodeUnknown, (&coreerr.UnknownSourceError{Source: source}).Error())
	}
	text, err := res.Lyric(ctx, songID)
	if err != nil {
		return c.resolverErrorEnvelope(err)
	}
	entry := model.NewLyricEntry(text, time.Now(), lyricTTL)
	if err := c.kv.Put(ctx, kv.NamespaceLyric, songCacheKey(songKey), entry, lyricTTL); err != nil {
		c.logger.Error("coordinator: kv put lyric failed", "err", err)
	}
	return success(text, nil)
}

// Info implements the `info(source, songId)` operation, exposed to callers
// as `other("info", ...)`.
func (c *Coordinator) Info(ctx context.Context, source, songID string) Envelope {
	if source == "kg" {
		songID = strings.ToLower(songID)
	}
	songKey := model.SongKey{Source: source, SongID: songID}

	var cached model.InfoEntry
	if hit, err := c.kv.Get(ctx, kv.NamespaceInfo, songCacheKey(songKey), &cached); err != nil {
		c.logger.Error("coordinator: kv get info failed", "err", err)
	} else if hit {
		return success(cached, nil)
	}

	res, found := c.registry.Lookup(source)
	if !found {
		return failure(coreerr.CodeUnknown, (&coreerr.UnknownSourceError{Source: source}).Error())
	}
	info, err := res.Info(ctx, songID)
	if err != nil {
		return c.resolverErrorEnvelope(err)
	}
	if err := c.kv.Put(ctx, kv.NamespaceInfo, songCacheKey(songKey), info, 0); err != nil {
		c.logger.Error("coordinator: kv put info failed", "err", err)
	}
	return success(info, nil)
}

// Search implements the `search(source, query)` operation. No caching:
// every call reaches the resolver.
func (c *Coordinator) Search(ctx context.Context, source, query string) Envelope {
	res, found := c.registry.Lookup(source)
	if !found {
		return failure(coreerr.CodeUnknown, (&coreerr.UnknownSourceError{Source: source}).Error())
	}
	result, err := res.Search(ctx, query)
	if err != nil {
		return c.resolverErrorEnvelope(err)
	}
	return success(result, nil)
}

// Other implements the `other(method, source, songId)` operation: a
// generic fan-out to the resolver's named method. Only "info" participates
// in the info KV namespace; every other method bypasses caching entirely.
func (c *Coordinator) Other(ctx context.Context, method, source, songID string) Envelope {
	if method == "info" {
		return c.Info(ctx, source, songID)
	}
	res, found := c.registry.Lookup(source)
	if !found {
		return failure(coreerr.CodeUnknown, (&coreerr.UnknownSourceError{Source: source}).Error())
	}
	capable, ok := res.(resolver.OtherCapable)
	if !ok {
		return failure(coreerr.CodeUnknown, (&coreerr.UnknownMethodError{Source: source, Method: method}).Error())
	}
	result, err := capable.Other(ctx, method, songID)
	if err != nil {
		return c.resolverErrorEnvelope(err)
	}
	return success(result, nil)
}

func (c *Coordinator) resolverErrorEnvelope(err error) Envelope {
	var resolverFailed *coreerr.ResolverFailedError
	if errors.As(err, &resolverFailed) {
		return failure(coreerr.CodeResolutionError, resolverFailed.Reason)
	}
	var unknownMethod *coreerr.UnknownMethodError
	if errors.As(err, &unknownMethod) {
		return failure(coreerr.CodeUnknown, unknownMethod.Error())
	}
	c.logger.Error("coordinator: unexpected error", "err", err)
	return failure(coreerr.CodeServerError, err.Error())
}

// ingestClientMetadata decodes the two optional base64url-encoded JSON
// blobs a caller may attach to a url() request, populating the info/lyric
// KV entries before resolution proceeds when they decode cleanly. A
// malformed attachment is recovered by ignoring it silently: the request
// proceeds and the KV cache is left untouched.
func (c *Coordinator) ingestClientMetadata(ctx context.Context, songKey model.SongKey, infoB64, lyricB64 string) {
	if infoB64 != "" {
		if info, err := decodeClientInfo(infoB64); err != nil {
			c.logger.Debug("coordinator: ignoring malformed client info", "err", err)
		} else if err := c.kv.Put(ctx, kv.NamespaceInfo, songCacheKey(songKey), info, 0); err != nil {
			c.logger.Error("coordinator: kv put info (client) failed", "err", err)
		}
	}
	if lyricB64 != "" {
		if text, err := decodeClientLyric(lyricB64); err != nil {
			c.logger.Debug("coordinator: ignoring malformed client lyric", "err", err)
		} else {
			entry := model.NewLyricEntry(text, time.Now(), lyricTTL)
			if err := c.kv.Put(ctx, kv.NamespaceLyric, songCacheKey(songKey), entry, lyricTTL); err != nil {
				c.logger.Error("coordinator: kv put lyric (client) failed", "err", err)
			}
		}
	}
}

func decodeClientInfo(b64 string) (model.InfoEntry, error) {
	raw, err := decodeBase64URL(b64)
	if err != nil {
		return model.InfoEntry{}, &coreerr.MalformedClientMetadataError{Field: "info", Err: err}
	}
	var info model.InfoEntry
	if err := json.Unmarshal(raw, &info); err != nil {
		return model.InfoEntry{}, &coreerr.MalformedClientMetadataError{Field: "info", Err: err}
	}
	return info, nil
}

func decodeClientLyric(b64 string) (string, error) {
	raw, err := decodeBase64URL(b64)
	if err != nil {
		return "", &coreerr.MalformedClientMetadataError{Field: "lyric", Err: err}
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", &coreerr.MalformedClientMetadataError{Field: "lyric", Err: err}
	}
	return text, nil
}

// decodeBase64URL restores standard padding before decoding, tolerating the
// un-padded base64url callers commonly send.
func decodeBase64URL(s string) ([]byte, error) {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.URLEncoding.DecodeString(s)
}

// currentInfo returns whatever InfoEntry is currently cached for songKey,
// or a zero value if none is, for handing to a fallback adapter as context.
func (c *Coordinator) currentInfo(ctx context.Context, songKey model.SongKey) model.InfoEntry {
	var info model.InfoEntry
	_, _ = c.kv.Get(ctx, kv.NamespaceInfo, songCacheKey(songKey), &info)
	return info
}
