package tagwriter

import (
	"fmt"
	"strings"

	flac "github.com/go-flac/go-flac"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
)

// embedFLAC sets title/artist/album/lyrics Vorbis-comment fields in path's
// existing comment block (or a fresh one), replacing earlier values of each
// field it writes, and replaces any existing picture block with the given
// cover, then rewrites the file.
func embedFLAC(path, title, artist, album, lyric string, coverJPEG []byte) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("tagwriter: parse flac %s: %w", path, err)
	}

	comment, commentIdx := findVorbisComment(f)
	if comment == nil {
		comment = flacvorbis.New()
		commentIdx = -1
	}
	replace := map[string]string{flacvorbis.FIELD_TITLE: title, flacvorbis.FIELD_ARTIST: artist, flacvorbis.FIELD_ALBUM: album, "LYRICS": lyric}
	kept := comment.Comments[:0]
	for _, c := range comment.Comments {
		field, _, _ := strings.Cut(c, "=")
		if replace[strings.ToUpper(field)] == "" {
			kept = append(kept, c)
		}
	}
	comment.Comments = kept
	if title != "" {
		_ = comment.Add(flacvorbis.FIELD_TITLE, title)
	}
	if artist != "" {
		_ = comment.Add(flacvorbis.FIELD_ARTIST, artist)
	}
	if album != "" {
		_ = comment.Add(flacvorbis.FIELD_ALBUM, album)
	}
	if lyric != "" {
		_ = comment.Add("LYRICS", lyric)
	}
	commentBlock := comment.Marshal()
	if commentIdx >= 0 {
		f.Meta[commentIdx] = &commentBlock
	} else {
		f.Meta = append(f.Meta, &commentBlock)
	}

	if len(coverJPEG) > 0 {
		jpegBytes, err := ToJPEG(coverJPEG)
		if err != nil {
			return err
		}
		picture, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "", jpegBytes, "image/jpeg")
		if err != nil {
			return fmt.Errorf("tagwriter: build flac picture: %w", err)
		}
		pictureBlock := picture.Marshal()
		f.Meta = replacePictureBlocks(f.Meta, &pictureBlock)
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("tagwriter: save flac %s: %w", path, err)
	}
	return nil
}

func findVorbisComment(f *flac.File) (*flacvorbis.MetaDataBlockVorbisComment, int) {
	for idx, meta := range f.Meta {
		if meta.Type == flac.VorbisComment {
			if cmt, err := flacvorbis.ParseFromMetaDataBlock(*meta); err == nil {
				return cmt, idx
			}
		}
	}
	return nil, -1
}

func replacePictureBlocks(blocks []*flac.MetaDataBlock, newPicture *flac.MetaDataBlock) []*flac.MetaDataBlock {
	out := make([]*flac.MetaDataBlock, 0, len(blocks)+1)
	for _, b := range blocks {
		if b.Type == flac.Picture {
			continue
		}
		out = append(out, b)
	}
	return append(out, newPicture)
}
