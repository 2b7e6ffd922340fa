package imaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrUnsafeURL = errors.New("url is not allowed")
	ErrTooLarge  = errors.New("remote file exceeds size limit")
)

const maxRedirects = 5

// Fetcher downloads remote images for import and for generation sources that
// only carry a URL. A page URL is resolved to its og:image once.
type Fetcher struct {
	client   *http.Client
	maxBytes int64

	// allowPrivate disables the private network guard; only tests set it.
	allowPrivate bool
}

func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	f := &Fetcher{maxBytes: maxBytes}

	// Every connection is checked at dial time, so redirects and DNS answers
	// that change after IsSafeURL cannot reach a restricted address.
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: f.dialControl}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	f.client = &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

func (f *Fetcher) dialControl(network, address string, _ syscall.RawConn) error {
	if f.allowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || restrictedIP(ip) {
		return fmt.Errorf("%w: restricted address %s", ErrUnsafeURL, host)
	}
	return nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if f.allowPrivate {
		return nil
	}
	if safe, err := IsSafeURL(req.URL.String()); err != nil || !safe {
		return fmt.Errorf("%w: redirect to %s: %v", ErrUnsafeURL, req.URL.Redacted(), err)
	}
	return nil
}

// Fetch returns the image bytes behind rawURL and their sniffed MIME type.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	data, contentType, finalURL, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}

	if isHTML(contentType, data) {
		imageURL, err := ExtractImageURL(strings.NewReader(string(data)), finalURL)
		if err != nil {
			return nil, "", err
		}
		data, _, _, err = f.get(ctx, imageURL)
		if err != nil {
			return nil, "", err
		}
	}

	mimeType, err := SniffImage(data)
	if err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, *url.URL, error) {
	if !f.allowPrivate {
		if safe, err := IsSafeURL(rawURL); err != nil || !safe {
			return nil, "", nil, fmt.Errorf("%w: %v", ErrUnsafeURL, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/*, text/html;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	limit := f.maxBytes
	if limit <= 0 {
		limit = 20 * 1024 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(data)) > limit {
		return nil, "", nil, ErrTooLarge
	}

	return data, resp.Header.Get("Content-Type"), resp.Request.URL, nil
}

// ExtractImageURL finds the preview image of an HTML page: og:image, then
// twitter:image, then the first <img>. Relative references resolve against base.
func ExtractImageURL(r io.Reader, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	candidates := []string{
		attr(doc, `meta[property="og:image"]`, "content"),
		attr(doc, `meta[property="og:image:url"]`, "content"),
		attr(doc, `meta[name="twitter:image"]`, "content"),
		attr(doc, "img[src]", "src"),
	}

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || strings.HasPrefix(c, "data:") {
			continue
		}
		ref, err := url.Parse(c)
		if err != nil {
			continue
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		return ref.String(), nil
	}

	return "", fmt.Errorf("%w: page has no preview image", ErrNotImage)
}

func attr(doc *goquery.Document, selector, name string) string {
	v, _ := doc.Find(selector).First().Attr(name)
	return v
}

func isHTML(contentType string, data []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	return strings.HasPrefix(http.DetectContentType(data), "text/html")
}

// IsSafeURL rejects non-http(s) schemes and hosts resolving to private,
// loopback or link-local addresses.
func IsSafeURL(rawURL string) (bool, error) {
	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false, fmt.Errorf("scheme not allowed: %s", parsedURL.Scheme)
	}

	host := parsedURL.Hostname()
	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolved, err := net.LookupIP(host)
		if err != nil {
			return false, fmt.Errorf("resolve %s: %w", host, err)
		}
		ips = resolved
	}

	if len(ips) == 0 {
		return false, fmt.Errorf("no addresses for %s", host)
	}

	for _, ip := range ips {
		if restrictedIP(ip) {
			return false, fmt.Errorf("restricted address %s", ip.String())
		}
	}

	return true, nil
}

func restrictedIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast()
}
