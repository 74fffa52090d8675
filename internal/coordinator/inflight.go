package coordinator

import (
	"sync"

	"tunecache/internal/model"
)

// inFlightSet tracks which (source, songId) pairs currently own a running
// metadata materialization job, enforcing the "at most one concurrent job
// per key" deduplication invariant. Unlike golang.org/x/sync/singleflight,
// a caller that finds a key already owned does not wait for the result --
// it returns immediately, matching the spec's dedup contract exactly.
type inFlightSet struct {
	mu   sync.Mutex
	keys map[model.SongKey]struct{}
}

func newInFlightSet() *inFlightSet {
	return &inFlightSet{keys: make(map[model.SongKey]struct{})}
}

// acquire reports whether key was not already in-flight, and if so, marks
// it in-flight. Callers that receive false must not start the job.
func (s *inFlightSet) acquire(key model.SongKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.keys[key]; busy {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// release clears key's in-flight marker. Callers must release exactly once
// per successful acquire, typically via defer.
func (s *inFlightSet) release(key model.SongKey) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}
