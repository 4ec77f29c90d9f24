// Package stylesheet forces cache-bypassing reloads of linked stylesheets.
package stylesheet

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lawnchairsociety/livereload/internal/logger"
)

// Link is a stylesheet reference in the hosting document.
type Link interface {
	Href() string
	// SetHref reassigns the location; the environment reloads the resource.
	SetHref(href string)
}

// Document is the query surface the refresher needs from the hosting page.
type Document interface {
	// StylesheetLinks returns the stylesheet links whose href contains substr.
	StylesheetLinks(substr string) []Link
}

// Refresher rewrites stylesheet hrefs with a fresh timestamp query.
type Refresher struct {
	doc  Document
	now  func() time.Time
	mu   sync.Mutex
	last int64 // last timestamp handed out, in milliseconds
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) {
		r.now = now
	}
}

// NewRefresher creates a refresher over doc.
func NewRefresher(doc Document, opts ...Option) *Refresher {
	r := &Refresher{
		doc: doc,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh reloads every stylesheet whose href contains "/"+file.
func (r *Refresher) Refresh(file string) {
	if file == "" {
		return
	}

	links := r.doc.StylesheetLinks("/" + file)
	if len(links) == 0 {
		return
	}

	timestamp := strconv.FormatInt(r.timestamp(), 10)
	for _, link := range links {
		href, _, _ := strings.Cut(link.Href(), "?")
		newHref := href + "?" + timestamp
		logger.Infof("Updating CSS file %s to %s", href, newHref)
		link.SetHref(newHref)
	}
}

// timestamp returns the current time in milliseconds, bumped past the
// previous value so consecutive refreshes never reuse a query string.
func (r *Refresher) timestamp() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now().UnixMilli()
	if ts <= r.last {
		ts = r.last + 1
	}
	r.last = ts
	return ts
}
