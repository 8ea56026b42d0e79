package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPDriver fetches pages with plain HTTP. VGSI pages render server
// side, so this is usually enough; the browser driver exists for sites
// that need script execution.
type HTTPDriver struct {
	client    *http.Client
	media     *http.Client
	userAgent string
}

func NewHTTPDriver(page, media *http.Client, userAgent string) *HTTPDriver {
	return &HTTPDriver{client: page, media: media, userAgent: userAgent}
}

func (d *HTTPDriver) Navigate(ctx context.Context, url string) (string, error) {
	body, _, err := doGet(ctx, d.client, d.userAgent, url, "text/html,application/xhtml+xml,*/*;q=0.8")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (d *HTTPDriver) Download(ctx context.Context, url string) ([]byte, string, error) {
	return doDownload(ctx, d.media, d.userAgent, url)
}

func (d *HTTPDriver) Close() error { return nil }

const maxDownloadSize = 50 * 1024 * 1024

func doGet(ctx context.Context, client *http.Client, ua, url, accept string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", Permanent(err)
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", Transient(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, "", Transient(err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func doDownload(ctx context.Context, client *http.Client, ua, url string) ([]byte, string, error) {
	return doGet(ctx, client, ua, url, "image/*,*/*")
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests:
		return Transient(fmt.Errorf("rate limited (status %d)", code))
	case code >= 500:
		return Transient(fmt.Errorf("server error (status %d)", code))
	default:
		return Permanent(fmt.Errorf("unexpected status %d", code))
	}
}
