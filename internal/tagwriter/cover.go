package tagwriter

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
)

// jpegMagic is the initial byte signature of a JPEG stream (FF D8 FF).
var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// ToJPEG returns raw as-is if it is already a JPEG (detected by its
// leading byte signature, never by file extension). Otherwise it decodes
// the image with the standard library's format-sniffing decoder and
// re-encodes it as JPEG. There is no dedicated third-party image codec
// wired in for this: none of the examined repos import one solely to
// normalize a cover image, and image/jpeg plus the blank-imported png/gif
// decoders cover every format this system's upstreams are known to hand
// back.
func ToJPEG(raw []byte) ([]byte, error) {
	if bytes.HasPrefix(raw, jpegMagic) {
		return raw, nil
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("tagwriter: decode cover: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("tagwriter: re-encode cover as jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
