package harvester

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// RenderOptions control a single headless render
type RenderOptions struct {
	// WaitSelectors are review-shaped elements to wait for; the page is
	// considered settled as soon as any of them appears
	WaitSelectors []string
	// Timeout bounds the whole render including navigation
	Timeout time.Duration
	// SettleWait is the extra wait applied when no selector appears in time
	SettleWait time.Duration
	// ScrollToStable keeps scrolling until the matched element count stops
	// growing for two consecutive rounds (store pages load reviews lazily)
	ScrollToStable bool
}

// Renderer loads a URL in a headless browser and returns the rendered HTML.
// Implementations are selected once at startup; see ProbeRenderer.
type Renderer interface {
	Render(ctx context.Context, targetURL string, opts RenderOptions) (string, error)
	Name() string
}

// ProbeRenderer picks a renderer engine by checking availability once at
// startup rather than falling through at request time. engine is one of
// "auto", "playwright", "chromedp" or "off"; auto tries playwright first
// and falls back to a local Chrome/Chromium via chromedp.
func ProbeRenderer(engine, userAgent string) (Renderer, error) {
	switch engine {
	case "off":
		return nil, nil
	case "playwright":
		return newPlaywrightRenderer(userAgent)
	case "chromedp":
		return newChromedpRenderer(userAgent)
	case "", "auto":
		if r, err := newPlaywrightRenderer(userAgent); err == nil {
			return r, nil
		}
		if r, err := newChromedpRenderer(userAgent); err == nil {
			return r, nil
		}
		return nil, fmt.Errorf("no headless renderer available: playwright driver missing and no chrome binary found")
	}
	return nil, fmt.Errorf("unknown render engine %q", engine)
}

// chromeCandidates are binary names probed for the chromedp engine
var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
}

// findChromeBinary returns the first available Chrome/Chromium executable
func findChromeBinary() (string, error) {
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no chrome binary found in PATH")
}
