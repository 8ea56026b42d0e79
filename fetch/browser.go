package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/playwright-community/playwright-go"

	"vgsi_scraper/config"
)

// BrowserDriver drives a Chromium instance through playwright. One
// driver per worker; the browser, context and page are owned for the
// worker's lifetime and released on Close.
type BrowserDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	media   *http.Client
	ua      string
	timeout time.Duration
}

// NewBrowserDriver launches a browser. A launch failure means no fetch
// channel can be established at all, so the error is fatal.
func NewBrowserDriver(site config.SiteConfig, browser config.BrowserConfig, timeout time.Duration, media *http.Client) (*BrowserDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, Fatal(fmt.Errorf("start playwright: %w", err))
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(browser.Headless),
		SlowMo:   playwright.Float(float64(browser.SlowMoMS)),
	})
	if err != nil {
		pw.Stop()
		return nil, Fatal(fmt.Errorf("launch browser: %w", err))
	}

	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(site.UserAgent),
		Viewport:  &playwright.Size{Width: 1920, Height: 1080},
	})
	if err != nil {
		b.Close()
		pw.Stop()
		return nil, Fatal(fmt.Errorf("create browser context: %w", err))
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		b.Close()
		pw.Stop()
		return nil, Fatal(fmt.Errorf("create page: %w", err))
	}
	page.SetDefaultTimeout(float64(timeout.Milliseconds()))

	return &BrowserDriver{
		pw:      pw,
		browser: b,
		bctx:    bctx,
		page:    page,
		media:   media,
		ua:      site.UserAgent,
		timeout: timeout,
	}, nil
}

func (d *BrowserDriver) Navigate(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Permanent(err)
	}

	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(d.timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	if err != nil {
		return "", Transient(fmt.Errorf("goto: %w", err))
	}

	html, err := d.page.Content()
	if err != nil {
		return "", Transient(fmt.Errorf("content: %w", err))
	}
	return html, nil
}

// Download goes over plain HTTP; media files need no script execution
// and the browser page stays free for navigation.
func (d *BrowserDriver) Download(ctx context.Context, url string) ([]byte, string, error) {
	return doDownload(ctx, d.media, d.ua, url)
}

func (d *BrowserDriver) Close() error {
	if d.page != nil {
		d.page.Close()
	}
	if d.bctx != nil {
		d.bctx.Close()
	}
	if d.browser != nil {
		d.browser.Close()
	}
	if d.pw != nil {
		return d.pw.Stop()
	}
	return nil
}
