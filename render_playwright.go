package harvester

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// playwrightRenderer drives a Chromium instance through the playwright
// driver. The driver process is started once at probe time and shared by
// all renders; each render gets a fresh browser context.
type playwrightRenderer struct {
	pw        *playwright.Playwright
	userAgent string
}

func newPlaywrightRenderer(userAgent string) (*playwrightRenderer, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("playwright driver unavailable: %w", err)
	}
	return &playwrightRenderer{pw: pw, userAgent: userAgent}, nil
}

func (r *playwrightRenderer) Name() string { return "playwright" }

func (r *playwrightRenderer) Render(ctx context.Context, targetURL string, opts RenderOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	browser, err := r.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}
	defer browser.Close()

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(r.userAgent),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}

	timeoutMs := float64(opts.Timeout.Milliseconds())
	if _, err := page.Goto(targetURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(timeoutMs),
	}); err != nil {
		return "", fmt.Errorf("navigation failed: %w", err)
	}

	r.waitForContent(page, opts)

	if opts.ScrollToStable && len(opts.WaitSelectors) > 0 {
		r.scrollUntilStable(page, opts.WaitSelectors[0])
	}

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return content, nil
}

// waitForContent waits until any wait selector appears, falling back to a
// fixed settle wait when none shows up inside the settle window
func (r *playwrightRenderer) waitForContent(page playwright.Page, opts RenderOptions) {
	settleMs := float64(opts.SettleWait.Milliseconds())
	if len(opts.WaitSelectors) == 0 {
		time.Sleep(opts.SettleWait)
		return
	}

	selector := strings.Join(opts.WaitSelectors, ", ")
	if _, err := page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(settleMs),
	}); err != nil {
		// No review-shaped element appeared; give dynamic content one
		// settle window before taking whatever rendered
		time.Sleep(opts.SettleWait)
	}
}

// scrollUntilStable keeps scrolling to the bottom until the count of
// matched elements is unchanged for two consecutive rounds
func (r *playwrightRenderer) scrollUntilStable(page playwright.Page, selector string) {
	const maxRounds = 8
	lastCount := -1
	stableRounds := 0

	for round := 0; round < maxRounds; round++ {
		if _, err := page.Evaluate("window.scrollTo(0, document.body.scrollHeight)"); err != nil {
			return
		}
		time.Sleep(500 * time.Millisecond)

		count := 0
		if n, err := page.Locator(selector).Count(); err == nil {
			count = n
		}
		if count == lastCount {
			stableRounds++
		} else {
			stableRounds = 0
		}
		if stableRounds >= 2 {
			return
		}
		lastCount = count
	}
}
