// Package browser defines the driving-layer contract the step executor
// runs against, plus a headless Chrome implementation of it.
package browser

import "context"

// Browser owns one browser process shared by all runs in the process.
// Implementations start the process lazily on first NewPage and must be
// safe for concurrent use.
type Browser interface {
	// NewPage opens a fresh, isolated browsing context. Pages are
	// single-use: one scenario run each, closed when the run ends,
	// never pooled or shared.
	NewPage(ctx context.Context) (Page, error)
	// Close tears the browser process down. No page may be used after.
	Close(ctx context.Context) error
}

// Page is one disposable browsing context.
type Page interface {
	// Navigate loads the URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Fill types the value into the element matched by selector.
	Fill(ctx context.Context, selector, value string) error
	// Click clicks the element matched by selector.
	Click(ctx context.Context, selector string) error
	// Text returns the text content of the element matched by selector.
	Text(ctx context.Context, selector string) (string, error)
	// Visible reports whether the element matched by selector is
	// rendered visible. A selector matching nothing reports false.
	Visible(ctx context.Context, selector string) (bool, error)
	// URL returns the page's current location.
	URL(ctx context.Context) (string, error)
	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close clears session state and destroys the browsing context.
	Close(ctx context.Context) error
}
