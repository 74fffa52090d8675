// Package kv implements the persistent, namespaced TTL cache described by
// the resolution pipeline: short-lived playback URLs, lyric text, and
// non-expiring song info, each partitioned into its own namespace with its
// own persistence file and eviction policy.
//
// Storage is two-tier: an in-process map per namespace backs every read, and
// a Redis client, when configured, is written through to on every Put and
// consulted on a local miss, with keys prefixed by their namespace.
// Independently of Redis, PersistPeriodically snapshots each dirty
// namespace to its own file on disk atomically, so namespace state survives
// a cold, Redis-less restart.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/redis/go-redis/v9"
)

// Namespace names. Only these three are valid.
const (
	NamespaceURLs  = "urls"
	NamespaceLyric = "lyric"
	NamespaceInfo  = "info"
)

var validNamespaces = map[string]bool{
	NamespaceURLs:  true,
	NamespaceLyric: true,
	NamespaceInfo:  true,
}

// record is the on-the-wire shape for both the disk snapshot and the Redis
// mirror: the caller's value plus the namespace's TTL bookkeeping.
type record struct {
	Value     json.RawMessage `json:"value"`
	ExpireAt  time.Time       `json:"expireAt"`
	CanExpire bool            `json:"canExpire"`
}

func (r record) expired(now time.Time) bool {
	return r.CanExpire && now.After(r.ExpireAt)
}

type namespace struct {
	mu      sync.RWMutex
	entries map[string]record
	dirty   bool
}

// Store is the KV Cache. Construct with New, then call Load during startup
// and PersistPeriodically in a background goroutine.
type Store struct {
	stateDir string
	redis    *redis.Client
	logger   *slog.Logger

	namespaces map[string]*namespace
}

// New builds an empty Store. redisAddr may be empty, in which case the
// store operates purely on its in-process maps plus disk snapshots.
func New(stateDir, redisAddr string, logger *slog.Logger) *Store {
	s := &Store{
		stateDir: stateDir,
		logger:   logger,
		namespaces: map[string]*namespace{
			NamespaceURLs:  {entries: make(map[string]record)},
			NamespaceLyric: {entries: make(map[string]record)},
			NamespaceInfo:  {entries: make(map[string]record)},
		},
	}
	if redisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: redisAddr})
	}
	return s
}

// Load reads each namespace's snapshot file from stateDir, if present. A
// file that fails to parse resets only that namespace (logged as a
// warning); it never aborts startup.
func (s *Store) Load() {
	for name, ns := range s.namespaces {
		path := s.snapshotPath(name)
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("kv: could not read namespace snapshot", "namespace", name, "err", err)
			}
			continue
		}
		var entries map[string]record
		if err := json.Unmarshal(data, &entries); err != nil {
			s.logger.Warn("kv: namespace snapshot corrupt, resetting", "namespace", name, "err", err)
			continue
		}
		ns.mu.Lock()
		ns.entries = entries
		ns.mu.Unlock()
	}
}

func (s *Store) snapshotPath(namespace string) string {
	return filepath.Join(s.stateDir, namespace+".json")
}

// Get looks up key in namespace and, if present and unexpired, unmarshals
// its value into out (which must be a pointer). It returns ok=false on a
// miss or an expired entry -- expired entries are never surfaced.
func (s *Store) Get(ctx context.Context, ns, key string, out any) (bool, error) {
	space, err := s.namespace(ns)
	if err != nil {
		return false, err
	}

	now := time.Now()

	space.mu.RLock()
	rec, found := space.entries[key]
	space.mu.RUnlock()

	if !found && s.redis != nil {
		rec, found = s.getFromRedis(ctx, ns, key)
		if found {
			space.mu.Lock()
			space.entries[key] = rec
			space.mu.Unlock()
		}
	}

	if !found || rec.expired(now) {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(rec.Value, out); err != nil {
			return false, fmt.Errorf("kv: decode %s/%s: %w", ns, key, err)
		}
	}
	return true, nil
}

// Put stores value under key in namespace. ttl<=0 means the entry never
// expires.
func (s *Store) Put(ctx context.Context, ns, key string, value any, ttl time.Duration) error {
	space, err := s.namespace(ns)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s/%s: %w", ns, key, err)
	}

	rec := record{Value: raw}
	if ttl > 0 {
		rec.ExpireAt = time.Now().Add(ttl)
		rec.CanExpire = true
	}

	space.mu.Lock()
	space.entries[key] = rec
	space.dirty = true
	space.mu.Unlock()

	if s.redis != nil {
		s.putToRedis(ctx, ns, key, rec, ttl)
	}
	return nil
}

// Delete removes key from namespace, if present.
func (s *Store) Delete(ns, key string) error {
	space, err := s.namespace(ns)
	if err != nil {
		return err
	}
	space.mu.Lock()
	delete(space.entries, key)
	space.dirty = true
	space.mu.Unlock()
	if s.redis != nil {
		s.redis.Del(context.Background(), redisKey(ns, key))
	}
	return nil
}

func (s *Store) namespace(ns string) (*namespace, error) {
	if !validNamespaces[ns] {
		return nil, fmt.Errorf("kv: unknown namespace %q", ns)
	}
	return s.namespaces[ns], nil
}

func redisKey(ns, key string) string { return "tunecache:" + ns + ":" + key }

func (s *Store) getFromRedis(ctx context.Context, ns, key string) (record, bool) {
	data, err := s.redis.Get(ctx, redisKey(ns, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("kv: redis get failed", "namespace", ns, "err", err)
		}
		return record{}, false
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("kv: redis entry corrupt", "namespace", ns, "err", err)
		return record{}, false
	}
	return rec, true
}

func (s *Store) putToRedis(ctx context.Context, ns, key string, rec record, ttl time.Duration) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, redisKey(ns, key), data, ttl).Err(); err != nil {
		s.logger.Warn("kv: redis set failed", "namespace", ns, "err", err)
	}
}

// PersistPeriodically flushes every dirty namespace to its snapshot file
// every interval, until ctx is cancelled. It is meant to be run in its own
// goroutine for the lifetime of the process.
func (s *Store) PersistPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.flushAll()
			return
		case <-ticker.C:
			s.flushAll()
		}
	}
}

func (s *Store) flushAll() {
	for name, ns := range s.namespaces {
		if err := s.flushOne(name, ns); err != nil {
			s.logger.Error("kv: flush failed", "namespace", name, "err", err)
		}
	}
}

func (s *Store) flushOne(name string, ns *namespace) error {
	ns.mu.Lock()
	if !ns.dirty {
		ns.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]record, len(ns.entries))
	for k, v := range ns.entries {
		snapshot[k] = v
	}
	ns.dirty = false
	ns.mu.Unlock()

	if err := os.MkdirAll(s.stateDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.snapshotPath(name), data, 0o644)
}
