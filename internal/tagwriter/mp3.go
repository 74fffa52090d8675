package tagwriter

import (
	"fmt"

	"github.com/bogem/id3v2/v2"
)

// embedMP3 opens path's ID3v2 tag (creating one if absent, same as
// id3v2.Open's own behavior), merges in the frames this system cares
// about, and saves. Prior frames of other kinds are left untouched since
// we only ever Set/Add the specific frames below.
func embedMP3(path, title, artist, album, lyric string, coverJPEG []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("tagwriter: open %s: %w", path, err)
	}
	defer tag.Close()

	if title != "" {
		tag.SetTitle(title)
	}
	if artist != "" {
		tag.SetArtist(artist)
	}
	if album != "" {
		tag.SetAlbum(album)
	}
	if lyric != "" {
		tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding:          id3v2.EncodingUTF8,
			Language:          "eng",
			ContentDescriptor: "",
			Lyrics:            lyric,
		})
	}
	if len(coverJPEG) > 0 {
		jpegBytes, err := ToJPEG(coverJPEG)
		if err != nil {
			return err
		}
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/jpeg",
			PictureType: id3v2.PTFrontCover,
			Description: "",
			Picture:     jpegBytes,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("tagwriter: save %s: %w", path, err)
	}
	return nil
}
