// Package page hosts the document the live-reload client is attached to.
// A Page is loaded over HTTP, reloads its stylesheets when their links are
// reassigned and signals teardown when it navigates away.
package page

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/lawnchairsociety/livereload/internal/logger"
)

// Page is one load of the hosted document.
type Page struct {
	URL      string
	Document *Document

	client *http.Client
	ctx    context.Context
	cancel context.CancelFunc

	unloading chan struct{}
	reloadOne sync.Once
	fetches   sync.WaitGroup
}

// Load fetches and parses the document at url.
func Load(ctx context.Context, client *http.Client, url string) (*Page, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := ParseDocument(resp.Body, resp.Request.URL)
	if err != nil {
		return nil, err
	}

	pageCtx, cancel := context.WithCancel(context.Background())
	p := &Page{
		URL:       resp.Request.URL.String(),
		Document:  doc,
		client:    client,
		ctx:       pageCtx,
		cancel:    cancel,
		unloading: make(chan struct{}),
	}
	doc.onHrefChange = p.fetchResource

	logger.Debug("Page loaded", "url", p.URL, "title", doc.Title())
	return p, nil
}

// Reload navigates away from the page. The first call fires the teardown
// signal; later calls do nothing.
func (p *Page) Reload() {
	p.reloadOne.Do(func() {
		logger.Debug("Page unloading", "url", p.URL)
		close(p.unloading)
	})
}

// Unloading is closed once the page starts navigating away.
func (p *Page) Unloading() <-chan struct{} {
	return p.unloading
}

// Close aborts in-flight resource fetches and waits for them to finish.
func (p *Page) Close() {
	p.cancel()
	p.fetches.Wait()
}

// fetchResource re-requests a resource whose link was reassigned.
func (p *Page) fetchResource(url string) {
	p.fetches.Add(1)
	go func() {
		defer p.fetches.Done()

		req, err := http.NewRequestWithContext(p.ctx, http.MethodGet, url, nil)
		if err != nil {
			logger.Warning("Invalid stylesheet URL", "url", url, "error", err)
			return
		}
		resp, err := p.client.Do(req)
		if err != nil {
			if p.ctx.Err() == nil {
				logger.Warning("Failed to fetch stylesheet", "url", url, "error", err)
			}
			return
		}
		defer resp.Body.Close()
		n, _ := io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK {
			logger.Warning("Stylesheet fetch failed", "url", url, "status", resp.StatusCode)
			return
		}
		logger.Debug("Stylesheet fetched", "url", url, "bytes", n)
	}()
}
