package harvester

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// chromedpRenderer drives a locally installed Chrome/Chromium over the
// DevTools protocol. Used when the playwright driver is not installed.
type chromedpRenderer struct {
	execPath  string
	userAgent string
}

func newChromedpRenderer(userAgent string) (*chromedpRenderer, error) {
	path, err := findChromeBinary()
	if err != nil {
		return nil, err
	}
	return &chromedpRenderer{execPath: path, userAgent: userAgent}, nil
}

func (r *chromedpRenderer) Name() string { return "chromedp" }

func (r *chromedpRenderer) Render(ctx context.Context, targetURL string, opts RenderOptions) (string, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(r.execPath),
		chromedp.UserAgent(r.userAgent),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	renderCtx, cancelRender := context.WithTimeout(browserCtx, opts.Timeout)
	defer cancelRender()

	var pageHTML string
	tasks := chromedp.Tasks{
		chromedp.Navigate(targetURL),
		r.waitForContent(opts),
	}
	if opts.ScrollToStable && len(opts.WaitSelectors) > 0 {
		tasks = append(tasks, r.scrollUntilStable(opts.WaitSelectors[0]))
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &pageHTML, chromedp.ByQuery))

	if err := chromedp.Run(renderCtx, tasks); err != nil {
		return "", fmt.Errorf("render failed: %w", err)
	}
	return pageHTML, nil
}

// waitForContent polls for any wait selector until it appears or the settle
// window runs out; without selectors it just sleeps the settle wait
func (r *chromedpRenderer) waitForContent(opts RenderOptions) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if len(opts.WaitSelectors) == 0 {
			return chromedp.Sleep(opts.SettleWait).Do(ctx)
		}

		expr := fmt.Sprintf("document.querySelector(%s) !== null",
			strconv.Quote(strings.Join(opts.WaitSelectors, ", ")))
		deadline := time.Now().Add(opts.SettleWait)

		for time.Now().Before(deadline) {
			var found bool
			if err := chromedp.Evaluate(expr, &found).Do(ctx); err != nil {
				return err
			}
			if found {
				return nil
			}
			select {
			case <-time.After(250 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
}

// scrollUntilStable scrolls to the bottom until the matched element count is
// unchanged for two consecutive rounds
func (r *chromedpRenderer) scrollUntilStable(selector string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		const maxRounds = 8
		countExpr := fmt.Sprintf("document.querySelectorAll(%s).length", strconv.Quote(selector))
		lastCount := -1
		stableRounds := 0

		for round := 0; round < maxRounds; round++ {
			if err := chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil).Do(ctx); err != nil {
				return err
			}
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}

			var count int
			if err := chromedp.Evaluate(countExpr, &count).Do(ctx); err != nil {
				return err
			}
			if count == lastCount {
				stableRounds++
			} else {
				stableRounds = 0
			}
			if stableRounds >= 2 {
				return nil
			}
			lastCount = count
		}
		return nil
	})
}
