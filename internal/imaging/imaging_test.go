package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngFixture(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.Set(x, y, color.RGBA{uint8(x * 7), uint8(y * 13), uint8((x + y) * 3), 255})
		}
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestDataURLRoundTrip(t *testing.T) {
	data := pngFixture(t, 4)

	dataURL := EncodeDataURL(data, "")
	assert.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))

	decoded, mimeType, err := ParseDataURL(dataURL)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, data, decoded)
}

func TestParseDataURL_Invalid(t *testing.T) {
	for _, in := range []string{
		"not a data url",
		"data:image/png,plain",
		"data:image/png;base64",
		"data:image/png;base64,@@@",
	} {
		_, _, err := ParseDataURL(in)
		assert.ErrorIs(t, err, ErrInvalidDataURL, in)
	}
}

func TestDecodeImage(t *testing.T) {
	data := pngFixture(t, 4)
	raw := base64.StdEncoding.EncodeToString(data)

	t.Run("bare base64", func(t *testing.T) {
		got, mimeType, err := DecodeImage(raw)
		require.NoError(t, err)
		assert.Equal(t, "image/png", mimeType)
		assert.Equal(t, data, got)
	})

	t.Run("unpadded base64", func(t *testing.T) {
		got, _, err := DecodeImage(strings.TrimRight(raw, "="))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("data url", func(t *testing.T) {
		got, _, err := DecodeImage(EncodeDataURL(data, "image/png"))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := DecodeImage("  ")
		assert.ErrorIs(t, err, ErrEmptyImage)
	})

	t.Run("not an image", func(t *testing.T) {
		_, _, err := DecodeImage(base64.StdEncoding.EncodeToString([]byte("hello world")))
		assert.ErrorIs(t, err, ErrNotImage)
	})
}

func TestStripDataURLPrefix(t *testing.T) {
	assert.Equal(t, "QUJD", StripDataURLPrefix("data:image/png;base64,QUJD"))
	assert.Equal(t, "QUJD", StripDataURLPrefix("QUJD"))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".png", ExtensionFor("image/png"))
	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg"))
	assert.Equal(t, ".bin", ExtensionFor("application/octet-stream"))
}

func TestCompressToJPEG(t *testing.T) {
	t.Run("png becomes jpeg", func(t *testing.T) {
		got, err := CompressToJPEG(pngFixture(t, 16), 75)
		require.NoError(t, err)

		_, format, err := image.Decode(bytes.NewReader(got))
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
	})

	t.Run("invalid data", func(t *testing.T) {
		_, err := CompressToJPEG([]byte("this is not an image"), 75)
		assert.Error(t, err)
	})
}

func TestShrink(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	buf := new(bytes.Buffer)
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(buf, img))
	data := buf.Bytes()

	same, mimeType := Shrink(data, "image/png", len(data))
	assert.Equal(t, data, same)
	assert.Equal(t, "image/png", mimeType)

	small, mimeType := Shrink(data, "image/png", 10)
	assert.Equal(t, "image/jpeg", mimeType)
	assert.Less(t, len(small), len(data))

	junk := []byte("not an image at all")
	kept, mimeType := Shrink(junk, "application/octet-stream", 5)
	assert.Equal(t, junk, kept)
	assert.Equal(t, "application/octet-stream", mimeType)
}

func TestExtractImageURL(t *testing.T) {
	base, _ := url.Parse("https://example.com/posts/1")

	tests := []struct {
		name string
		html string
		want string
	}{
		{"og image", `<html><head><meta property="og:image" content="https://cdn.example.com/a.png"></head></html>`, "https://cdn.example.com/a.png"},
		{"twitter image", `<html><head><meta name="twitter:image" content="/b.jpg"></head></html>`, "https://example.com/b.jpg"},
		{"first img", `<html><body><img src="c.gif"><img src="d.gif"></body></html>`, "https://example.com/posts/c.gif"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractImageURL(strings.NewReader(tc.html), base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ExtractImageURL(strings.NewReader(`<html><body>no images</body></html>`), base)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestIsSafeURL(t *testing.T) {
	for _, u := range []string{
		"http://127.0.0.1/x.png",
		"http://10.0.0.5/x.png",
		"http://[::1]/x.png",
		"ftp://example.com/x.png",
		"file:///etc/passwd",
	} {
		safe, err := IsSafeURL(u)
		assert.False(t, safe, u)
		assert.Error(t, err, u)
	}

	safe, err := IsSafeURL("https://93.184.216.34/x.png")
	assert.True(t, safe)
	assert.NoError(t, err)
}

func TestFetcher_Fetch(t *testing.T) {
	imgData := pngFixture(t, 8)

	mux := http.NewServeMux()
	mux.HandleFunc("/image.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(imgData)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><meta property="og:image" content="/image.png"></head></html>`)
	})
	mux.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "plain text")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(5*time.Second, 1024*1024)
	ctx := context.Background()

	t.Run("private network blocked by default", func(t *testing.T) {
		_, _, err := f.Fetch(ctx, srv.URL+"/image.png")
		assert.ErrorIs(t, err, ErrUnsafeURL)
	})

	f.allowPrivate = true

	t.Run("direct image", func(t *testing.T) {
		data, mimeType, err := f.Fetch(ctx, srv.URL+"/image.png")
		require.NoError(t, err)
		assert.Equal(t, "image/png", mimeType)
		assert.Equal(t, imgData, data)
	})

	t.Run("page resolves og:image", func(t *testing.T) {
		data, _, err := f.Fetch(ctx, srv.URL+"/page")
		require.NoError(t, err)
		assert.Equal(t, imgData, data)
	})

	t.Run("non image rejected", func(t *testing.T) {
		_, _, err := f.Fetch(ctx, srv.URL+"/text")
		assert.ErrorIs(t, err, ErrNotImage)
	})

	t.Run("size limit", func(t *testing.T) {
		small := &Fetcher{client: srv.Client(), maxBytes: 10, allowPrivate: true}
		_, _, err := small.Fetch(ctx, srv.URL+"/image.png")
		assert.ErrorIs(t, err, ErrTooLarge)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (fn roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return fn(r) }

func TestFetcher_RedirectToPrivateBlocked(t *testing.T) {
	internalHit := false
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		internalHit = true
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngFixture(t, 4))
	}))
	defer internal.Close()

	f := NewFetcher(5*time.Second, 1024*1024)
	base := f.client.Transport
	f.client.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Hostname() == "93.184.216.34" {
			return &http.Response{
				StatusCode: http.StatusFound,
				Header:     http.Header{"Location": []string{internal.URL + "/secret.png"}},
				Body:       http.NoBody,
				Request:    r,
			}, nil
		}
		return base.RoundTrip(r)
	})

	_, _, err := f.Fetch(context.Background(), "http://93.184.216.34/avatar.png")
	assert.ErrorIs(t, err, ErrUnsafeURL)
	assert.False(t, internalHit, "redirect target on a private address must not be requested")
}

func TestFetcher_DialGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 1024)

	// Bypasses IsSafeURL entirely; only the dialer stands in the way.
	_, err := f.client.Get(srv.URL)
	assert.ErrorIs(t, err, ErrUnsafeURL)

	assert.Error(t, f.dialControl("tcp", "169.254.169.254:80", nil))
	assert.Error(t, f.dialControl("tcp", "[::1]:443", nil))
	assert.NoError(t, f.dialControl("tcp", "93.184.216.34:443", nil))

	f.allowPrivate = true
	resp, err := f.client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestFetcher_RedirectCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 1024)
	f.allowPrivate = true

	_, _, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirects")
}
