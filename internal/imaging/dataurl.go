// Package imaging converts images between the data URL, raw base64, byte and
// remote URL forms the generation endpoints accept.
package imaging

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotImage       = errors.New("data is not an image")
	ErrEmptyImage     = errors.New("image data is empty")
	ErrInvalidDataURL = errors.New("invalid data URL")
)

// EncodeDataURL renders data as a data:<mime>;base64,... URL.
func EncodeDataURL(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL decodes a base64 data URL and returns its payload and declared MIME type.
func ParseDataURL(s string) ([]byte, string, error) {
	if !strings.HasPrefix(s, "data:") {
		return nil, "", ErrInvalidDataURL
	}

	header, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, "", ErrInvalidDataURL
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return data, strings.TrimSuffix(header, ";base64"), nil
}

// DecodeImage accepts either a data URL or bare base64 and returns the image bytes
// with their sniffed MIME type. Non-image payloads are rejected.
func DecodeImage(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", ErrEmptyImage
	}

	var data []byte
	var err error
	if strings.HasPrefix(s, "data:") {
		data, _, err = ParseDataURL(s)
	} else {
		data, err = decodeBase64(s)
	}
	if err != nil {
		return nil, "", err
	}

	mimeType, err := SniffImage(data)
	if err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}

// SniffImage returns the detected MIME type when data looks like an image.
func SniffImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%w (detected %s)", ErrNotImage, mimeType)
	}
	return mimeType, nil
}

// StripDataURLPrefix returns the bare base64 payload of a data URL, or s unchanged.
func StripDataURLPrefix(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if _, payload, ok := strings.Cut(s, ","); ok {
		return payload
	}
	return s
}

func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// ExtensionFor maps an image MIME type to a file extension.
func ExtensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".bin"
	}
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	// Browsers sometimes strip padding or use the URL alphabet.
	if data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
