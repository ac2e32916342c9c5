// Package browserdriver declares the external BrowserDriver collaborator the
// Step Executor drives, plus the process-wide session pool that bounds how
// many browser sessions may be open concurrently. The actual headless
// browser engine is out of scope (spec non-goal); StubDriver provides a
// text-based driver usable without one.
package browserdriver

import (
	"context"
	"time"
)

// Driver is one open browser session. Implementations are not required to be
// safe for concurrent use by multiple goroutines — the Step Executor only
// ever drives one Driver from one goroutine at a time, since steps within a
// task are strictly sequential (spec §4.6).
type Driver interface {
	// Navigate loads url and waits for the page to settle.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// CurrentURL returns the address of the page currently loaded.
	CurrentURL(ctx context.Context) (string, error)

	// Title returns the current page's title.
	Title(ctx context.Context) (string, error)

	// Click resolves the first matching element by selector (if non-empty)
	// or by case-insensitive trimmed substring of text, and clicks it.
	Click(ctx context.Context, selector, text string, timeout time.Duration) error

	// Type fills the first input-like element matched by selector with
	// text, optionally pressing Enter afterwards.
	Type(ctx context.Context, selector, text string, submit bool) error

	// Wait blocks until condition is satisfied or timeout elapses.
	Wait(ctx context.Context, condition string, selector string, timeout time.Duration) error

	// ExtractText returns the visible text of selector, or of the whole
	// document body when selector is empty.
	ExtractText(ctx context.Context, selector string) (string, error)

	// Scroll moves the viewport one page in direction ("UP" or "DOWN").
	Scroll(ctx context.Context, direction string) error

	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, int, int, error)

	// Close releases the session's resources. Idempotent.
	Close() error
}

// ScreenshotOptions configures a single Screenshot call.
type ScreenshotOptions struct {
	FullPage bool
	Width    int
	Height   int
}
