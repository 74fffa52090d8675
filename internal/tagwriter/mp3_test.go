package tagwriter

import (
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"bytes"

	"github.com/bogem/id3v2/v2"
)

func newEmptyMP3(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "song.mp3")
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sampleJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestEmbedMP3WritesBasicFrames(t *testing.T) {
	path := newEmptyMP3(t)

	if err := embedMP3(path, "Song", "Artist", "Album", "[00:00]hi", nil); err != nil {
		t.Fatal(err)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tag.Close()

	if tag.Title() != "Song" || tag.Artist() != "Artist" || tag.Album() != "Album" {
		t.Fatalf("unexpected frames: title=%q artist=%q album=%q", tag.Title(), tag.Artist(), tag.Album())
	}

	lyricsFrames := tag.GetFrames(tag.CommonID("Unsynchronised lyrics/text transcription"))
	if len(lyricsFrames) != 1 {
		t.Fatalf("expected exactly one lyrics frame, got %d", len(lyricsFrames))
	}
	lyricsFrame, ok := lyricsFrames[0].(id3v2.UnsynchronisedLyricsFrame)
	if !ok || lyricsFrame.Lyrics != "[00:00]hi" {
		t.Fatalf("unexpected lyrics frame: %+v", lyricsFrames[0])
	}
}

func TestEmbedMP3WritesCoverPicture(t *testing.T) {
	path := newEmptyMP3(t)

	if err := embedMP3(path, "Song", "Artist", "Album", "", sampleJPEG(t)); err != nil {
		t.Fatal(err)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tag.Close()

	pictures := tag.GetFrames(tag.CommonID("Attached picture"))
	if len(pictures) != 1 {
		t.Fatalf("expected exactly one attached picture, got %d", len(pictures))
	}
	pic, ok := pictures[0].(id3v2.PictureFrame)
	if !ok || pic.PictureType != id3v2.PTFrontCover || pic.MimeType != "image/jpeg" {
		t.Fatalf("unexpected picture frame: %+v", pictures[0])
	}
}

func TestEmbedMP3IsIdempotentOnRepeatedWrites(t *testing.T) {
	path := newEmptyMP3(t)

	if err := embedMP3(path, "Song", "Artist", "Album", "", nil); err != nil {
		t.Fatal(err)
	}
	if err := embedMP3(path, "Song", "Artist", "Album", "", nil); err != nil {
		t.Fatal(err)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tag.Close()

	if tag.Title() != "Song" {
		t.Fatalf("expected title to remain Song after a second write, got %q", tag.Title())
	}
}
