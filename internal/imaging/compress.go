package imaging

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
)

const DefaultJPEGQuality = 85

// CompressToJPEG re-encodes any image.Decode-supported data as JPEG.
func CompressToJPEG(data []byte, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Shrink returns data untouched when it fits in maxBytes, otherwise a JPEG
// re-encode of it. The JPEG is only used when it is actually smaller.
func Shrink(data []byte, mimeType string, maxBytes int) ([]byte, string) {
	if maxBytes <= 0 || len(data) <= maxBytes {
		return data, mimeType
	}

	compressed, err := CompressToJPEG(data, DefaultJPEGQuality)
	if err != nil || len(compressed) >= len(data) {
		return data, mimeType
	}
	return compressed, "image/jpeg"
}
