package store

import (
	"os"
	"path/filepath"
	"testing"

	"tunecache/internal/model"
)

func writeEmpty(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanIndexesAudioAndCoverFiles(t *testing.T) {
	dir := t.TempDir()
	writeEmpty(t, dir, "kw_abc_128k.mp3")
	writeEmpty(t, dir, "kw_abc_cover.jpg")
	writeEmpty(t, dir, ".hidden")
	writeEmpty(t, dir, "bogus.mp3") // fewer than 3 segments, skipped

	s := New(dir)
	if err := s.Scan(); err != nil {
		t.Fatal(err)
	}

	path, quality, ok := s.Lookup(model.ArtifactKey{Source: "kw", SongID: "abc", Quality: "128k"})
	if !ok || quality != "128k" {
		t.Fatalf("expected exact hit, got ok=%v quality=%q", ok, quality)
	}
	if filepath.Base(path) != "kw_abc_128k.mp3" {
		t.Fatalf("unexpected path %q", path)
	}

	coverPath, ok := s.CoverPath("kw", "abc")
	if !ok || filepath.Base(coverPath) != "kw_abc_cover.jpg" {
		t.Fatalf("expected cover hit, got ok=%v path=%q", ok, coverPath)
	}

	if _, _, ok := s.Lookup(model.ArtifactKey{Source: "kw", SongID: "nope", Quality: "128k"}); ok {
		t.Fatal("unknown song must miss")
	}
}

func TestLookupSubstitutesQualityWhenExactMissing(t *testing.T) {
	dir := t.TempDir()
	writeEmpty(t, dir, "wy_xyz_flac.flac")

	s := New(dir)
	if err := s.Scan(); err != nil {
		t.Fatal(err)
	}

	path, servedQuality, ok := s.Lookup(model.ArtifactKey{Source: "wy", SongID: "xyz", Quality: "320k"})
	if !ok {
		t.Fatal("expected a substituted variant, got miss")
	}
	if servedQuality != "flac" {
		t.Fatalf("expected served quality to reflect the actual file, got %q", servedQuality)
	}
	if filepath.Base(path) != "wy_xyz_flac.flac" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestKGCaseNormalizationSharesOneEntry(t *testing.T) {
	s := New(t.TempDir())
	s.Put(model.ArtifactKey{Source: "kg", SongID: "AbCdEf", Quality: "320k"}, "/cache/kg_abcdef_320k.mp3")

	path, _, ok := s.Lookup(model.ArtifactKey{Source: "kg", SongID: "abcdef", Quality: "320k"})
	if !ok {
		t.Fatal("expected lowercase lookup to hit the entry stored under the original mixed-case songId")
	}
	if path != "/cache/kg_abcdef_320k.mp3" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestAudioPathsReturnsEveryQuality(t *testing.T) {
	dir := t.TempDir()
	writeEmpty(t, dir, "kw_abc_128k.mp3")
	writeEmpty(t, dir, "kw_abc_320k.mp3")

	s := New(dir)
	if err := s.Scan(); err != nil {
		t.Fatal(err)
	}

	paths := s.AudioPaths("kw", "abc")
	if len(paths) != 2 {
		t.Fatalf("expected 2 audio paths, got %d", len(paths))
	}
}

func TestScanMissingDirectoryIsNotAnError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	if err := s.Scan(); err != nil {
		t.Fatalf("scanning an absent cache dir should be a no-op, got %v", err)
	}
}
