// Package tagwriter is the Metadata Embedder: it writes title/artist/album/
// lyrics/cover into a completed audio file, dispatching by filename suffix
// to either ID3v2 (MP3) or Vorbis-comment (FLAC) tag writing.
package tagwriter

import (
	"fmt"
	"path/filepath"
	"strings"

	"tunecache/internal/model"
)

// Embed writes info, lyric, and cover (image bytes, converted with ToJPEG
// when not already JPEG) into the audio file at path. If info is nil the embedder
// is a no-op, per the "no cached InfoEntry" rule. Any of lyric/coverJPEG
// may be empty/nil, in which case that frame/field is simply omitted.
func Embed(path string, info *model.InfoEntry, lyric string, coverJPEG []byte) error {
	if info == nil {
		return nil
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return embedMP3(path, info.Name, info.Singer, info.Album, lyric, coverJPEG)
	case ".flac":
		return embedFLAC(path, info.Name, info.Singer, info.Album, lyric, coverJPEG)
	default:
		return fmt.Errorf("tagwriter: unsupported container %q", ext)
	}
}
