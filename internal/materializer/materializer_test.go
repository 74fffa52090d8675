package materializer

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tunecache/internal/model"
	"tunecache/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMaterializeDownloadsAndIndexes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("fake mp3 bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	st := store.New(dir)
	m := New(st, RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}, testLogger())

	key := model.ArtifactKey{Source: "kw", SongID: "abc", Quality: "128k"}
	if err := m.Materialize(context.Background(), key, srv.URL+"/audio.mp3", nil, "", ""); err != nil {
		t.Fatal(err)
	}

	path, _, ok := st.Lookup(key)
	if !ok {
		t.Fatal("expected the artifact store to index the materialized file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "fake mp3 bytes" {
		t.Fatalf("unexpected file contents: %q", data)
	}
}

func TestMaterializeIsIdempotentWhenTargetExists(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	st := store.New(dir)
	m := New(st, DefaultRetryPolicy(), testLogger())
	key := model.ArtifactKey{Source: "kw", SongID: "abc", Quality: "128k"}

	if err := m.Materialize(context.Background(), key, srv.URL+"/a.mp3", nil, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Materialize(context.Background(), key, srv.URL+"/a.mp3", nil, "", ""); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one download, got %d", calls)
	}
}

func TestMaterializeRetriesOnTransportFailure(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	st := store.New(dir)
	m := New(st, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, testLogger())
	key := model.ArtifactKey{Source: "kw", SongID: "retry", Quality: "128k"}

	if err := m.Materialize(context.Background(), key, srv.URL+"/a.mp3", nil, "", ""); err != nil {
		t.Fatalf("expected eventual success after retry, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestExtensionFromURL(t *testing.T) {
	if got := ExtensionFromURL("http://x/y/z.flac", ".mp3"); got != ".flac" {
		t.Fatalf("expected .flac, got %q", got)
	}
	if got := ExtensionFromURL("http://x/y/z", ".mp3"); got != ".mp3" {
		t.Fatalf("expected fallback .mp3, got %q", got)
	}
	if got := ExtensionFromURL("::not a url::", ".mp3"); got != ".mp3" {
		t.Fatalf("expected fallback on unparsable url, got %q", got)
	}
}

func TestMaterializeTargetPathUsesKeySegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	st := store.New(dir)
	m := New(st, RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}, testLogger())
	key := model.ArtifactKey{Source: "kg", SongID: "AbCdEf", Quality: "320k"}

	if err := m.Materialize(context.Background(), key, srv.URL+"/cover.flac", nil, "", ""); err != nil {
		t.Fatal(err)
	}
	path, _, ok := st.Lookup(model.ArtifactKey{Source: "kg", SongID: "abcdef", Quality: "320k"})
	if !ok {
		t.Fatal("expected lookup under the normalized (lowercased) songId to hit")
	}
	if filepath.Base(path) != "kg_abcdef_320k.flac" {
		t.Fatalf("unexpected filename %q", filepath.Base(path))
	}
}
