package browserdriver

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/browsecore/browseserver/internal/tool/builtin"
)

const (
	stubUserAgent  = "BrowseServer/1.0 (Step Executor)"
	stubMaxBody    = 4 << 20
	stubScreenshot = 1024 // synthetic screenshot edge length in pixels
)

var stubHTTPClient = &http.Client{Timeout: 30 * time.Second}

// StubDriver is a text-based BrowserDriver: it fetches pages over plain HTTP
// and extracts text with goquery instead of driving a real rendering engine
// (the headless browser itself is an explicit non-goal — §1). It is enough
// to exercise the full Step Executor/Orchestrator contract end to end,
// including synthetic, deterministic-looking screenshots for the pipeline
// to validate and persist.
type StubDriver struct {
	mu           sync.Mutex
	currentURL   string
	currentTitle string
	lastContent  string
	rng          *rand.Rand
}

// NewStubDriver opens a stub session with no page loaded yet.
func NewStubDriver() *StubDriver {
	return &StubDriver{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (d *StubDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return apperr.Wrap(apperr.NavigationFailed, "build request for "+url, err)
	}
	req.Header.Set("User-Agent", stubUserAgent)

	resp, err := stubHTTPClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.NavigationFailed, "fetch "+url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, stubMaxBody))
		return apperr.Newf(apperr.NavigationFailed, "%s returned HTTP %d", url, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, stubMaxBody)
	contentType := resp.Header.Get("Content-Type")
	utf8Reader, convErr := charset.NewReader(limited, contentType)
	if convErr != nil {
		utf8Reader = limited
	}

	title, _, content, err := builtin.ExtractDocumentText(utf8Reader)
	if err != nil {
		return apperr.Wrap(apperr.NavigationFailed, "parse document from "+url, err)
	}

	d.mu.Lock()
	d.currentURL = resp.Request.URL.String()
	d.currentTitle = title
	d.lastContent = content
	d.mu.Unlock()
	return nil
}

func (d *StubDriver) CurrentURL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentURL, nil
}

func (d *StubDriver) Title(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentTitle, nil
}

// Click has no DOM to act on in the stub driver, but the contract still
// needs an element to "find": a click without matching text in the last
// extracted content is reported as ELEMENT_NOT_FOUND so the executor's retry
// and confidence logic behaves the same as it would against a real page.
func (d *StubDriver) Click(_ context.Context, selector, text string, _ time.Duration) error {
	d.mu.Lock()
	content := d.lastContent
	d.mu.Unlock()

	if selector == "" && text == "" {
		return apperr.New(apperr.ElementNotFound, "click requires a selector or text target")
	}
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle != "" && !strings.Contains(strings.ToLower(content), needle) {
		return apperr.Newf(apperr.ElementNotFound, "no element matching text %q on the current page", text)
	}
	return nil
}

// Type has nothing to fill in the stub driver; it succeeds unconditionally
// since there is no form state to validate.
func (d *StubDriver) Type(context.Context, string, string, bool) error {
	return nil
}

func (d *StubDriver) Wait(ctx context.Context, condition string, _ string, timeout time.Duration) error {
	select {
	case <-time.After(minDuration(timeout, 50*time.Millisecond)):
		return nil
	case <-ctx.Done():
		return apperr.Wrap(apperr.Timeout, fmt.Sprintf("wait for %s", condition), ctx.Err())
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func (d *StubDriver) ExtractText(_ context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastContent == "" {
		return "", apperr.New(apperr.ElementNotFound, "no page loaded to extract text from")
	}
	_ = selector // the stub driver only has whole-document text available
	return d.lastContent, nil
}

func (d *StubDriver) Scroll(context.Context, string) error {
	return nil
}

// Screenshot synthesizes a PNG that encodes the current URL's content
// deterministically as a banded gradient, so repeated screenshots of the
// same page are visually stable while different pages look different. This
// stands in for a real renderer (non-goal, §1) while still producing an
// artifact the Screenshot Pipeline's validation (dimensions, channel
// variance, white-ratio) can meaningfully check.
func (d *StubDriver) Screenshot(_ context.Context, opts ScreenshotOptions) ([]byte, int, int, error) {
	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = stubScreenshot
	}
	if height <= 0 {
		height = stubScreenshot
	}

	d.mu.Lock()
	seed := hashString(d.currentURL + d.currentTitle)
	d.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		band := (uint32(y) + seed) % 256
		for x := 0; x < width; x++ {
			r := uint8((band + uint32(x)/4) % 256)
			g := uint8((band * 3 / 2) % 256)
			b := uint8((seed / 7) % 256)
			img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}

	var buf strings.Builder
	w := &writerAt{&buf}
	if err := png.Encode(w, img); err != nil {
		return nil, 0, 0, apperr.Wrap(apperr.ScreenshotFailed, "encode synthetic screenshot", err)
	}
	return []byte(buf.String()), width, height, nil
}

// writerAt adapts strings.Builder to io.Writer for png.Encode.
type writerAt struct{ sb *strings.Builder }

func (w *writerAt) Write(p []byte) (int, error) { return w.sb.Write(p) }

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func (d *StubDriver) Close() error { return nil }
