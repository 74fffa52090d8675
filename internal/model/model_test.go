package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestArtifactKeyNormalize(t *testing.T) {
	k := ArtifactKey{Source: "kg", SongID: "AbCdEf", Quality: "320k"}
	got := k.Normalize()
	if got.SongID != "abcdef" {
		t.Fatalf("expected lowercased songID, got %q", got.SongID)
	}

	other := ArtifactKey{Source: "kw", SongID: "AbCdEf", Quality: "320k"}
	if got := other.Normalize(); got.SongID != "AbCdEf" {
		t.Fatalf("non-kg source must not be lowercased, got %q", got.SongID)
	}
}

func TestURLEntryValidity(t *testing.T) {
	now := time.Now()

	nonExpiring := NewURLEntry("http://x", now, 0)
	if nonExpiring.CanExpire {
		t.Fatal("ttl<=0 must produce a non-expiring entry")
	}
	if !nonExpiring.Valid(now.Add(365 * 24 * time.Hour)) {
		t.Fatal("non-expiring entry must stay valid indefinitely")
	}

	expiring := NewURLEntry("http://x", now, time.Minute)
	if !expiring.CanExpire {
		t.Fatal("positive ttl must produce an expiring entry")
	}
	if !expiring.Valid(now.Add(30 * time.Second)) {
		t.Fatal("entry should still be valid before its ttl elapses")
	}
	if expiring.Valid(now.Add(2 * time.Minute)) {
		t.Fatal("entry should be invalid once its ttl has elapsed")
	}
}

func TestCoverRefTransitions(t *testing.T) {
	remote := RemoteCover("http://img/cover.jpg")
	if !remote.IsRemote() || remote.IsLocal() {
		t.Fatal("RemoteCover must report IsRemote and not IsLocal")
	}

	local := LocalCover("/cache/kw_abc_cover.jpg")
	if !local.IsLocal() || local.IsRemote() {
		t.Fatal("LocalCover must report IsLocal and not IsRemote")
	}

	empty := RemoteCover("")
	if empty.IsRemote() || empty.IsLocal() {
		t.Fatal("an empty url must not produce a remote cover")
	}
}

func TestCoverRefJSONIsAFlatString(t *testing.T) {
	remote := RemoteCover("http://img/cover.jpg")
	raw, err := json.Marshal(remote)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"http://img/cover.jpg"` {
		t.Fatalf("expected a flat JSON string, got %s", raw)
	}

	local := LocalCover("/cache/kw_abc_cover.jpg")
	raw, err = json.Marshal(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"/cache/kw_abc_cover.jpg"` {
		t.Fatalf("expected a flat JSON string, got %s", raw)
	}

	empty := RemoteCover("")
	raw, err = json.Marshal(empty)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `""` {
		t.Fatalf("expected an empty string for CoverNone, got %s", raw)
	}
}

func TestCoverRefJSONRoundTrip(t *testing.T) {
	var remote CoverRef
	if err := json.Unmarshal([]byte(`"http://img/cover.jpg"`), &remote); err != nil {
		t.Fatal(err)
	}
	if !remote.IsRemote() || remote.Value != "http://img/cover.jpg" {
		t.Fatalf("expected a remote cover, got %+v", remote)
	}

	var local CoverRef
	if err := json.Unmarshal([]byte(`"/cache/kw_abc_cover.jpg"`), &local); err != nil {
		t.Fatal(err)
	}
	if !local.IsLocal() || local.Value != "/cache/kw_abc_cover.jpg" {
		t.Fatalf("expected a local cover, got %+v", local)
	}

	var none CoverRef
	if err := json.Unmarshal([]byte(`""`), &none); err != nil {
		t.Fatal(err)
	}
	if none.IsRemote() || none.IsLocal() {
		t.Fatalf("expected CoverNone for an empty string, got %+v", none)
	}
}

func TestInfoEntryCoverFieldSerializesFlat(t *testing.T) {
	info := InfoEntry{Name: "Song", Cover: RemoteCover("http://img/cover.jpg")}
	raw, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["cover"] != "http://img/cover.jpg" {
		t.Fatalf("expected info.cover to be a flat string in the outer JSON, got %+v", decoded["cover"])
	}

	var roundTripped InfoEntry
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		t.Fatal(err)
	}
	if roundTripped.Cover.Value != "http://img/cover.jpg" || !roundTripped.Cover.IsRemote() {
		t.Fatalf("expected the cover to round-trip as remote, got %+v", roundTripped.Cover)
	}
}
