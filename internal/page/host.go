package page

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lawnchairsociety/livereload/internal/command"
	"github.com/lawnchairsociety/livereload/internal/config"
	"github.com/lawnchairsociety/livereload/internal/connection"
	"github.com/lawnchairsociety/livereload/internal/logger"
	"github.com/lawnchairsociety/livereload/internal/stylesheet"
	"github.com/lawnchairsociety/livereload/internal/transport"
)

// Host keeps a page loaded with a live-reload client attached, loading it
// again every time it navigates.
type Host struct {
	cfg       config.ClientConfig
	client    *http.Client
	dialer    transport.Dialer
	scheduler connection.Scheduler

	// OnLoad, if set, is called with every freshly loaded page.
	OnLoad func(*Page)

	// OnStateChange, if set, observes the connection of the current page.
	OnStateChange func(connection.StateEvent)
}

// NewHost creates a Host for the configured page and endpoint.
func NewHost(cfg config.ClientConfig, client *http.Client, dialer transport.Dialer) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PageURL == "" {
		return nil, errors.New("page: page_url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if dialer == nil {
		dialer = transport.NewWebSocketDialer(cfg)
	}
	return &Host{
		cfg:       cfg,
		client:    client,
		dialer:    dialer,
		scheduler: connection.RealScheduler(),
	}, nil
}

// Run loads the page and serves it until ctx is cancelled.
func (h *Host) Run(ctx context.Context) error {
	for {
		p, err := h.load(ctx)
		if err != nil {
			return err
		}
		if h.OnLoad != nil {
			h.OnLoad(p)
		}
		if err := h.serve(ctx, p); err != nil {
			return err
		}
		logger.Info("Reloading page", "url", h.cfg.PageURL)
	}
}

// load fetches the page, retrying at the reconnect interval until it
// succeeds or ctx is cancelled.
func (h *Host) load(ctx context.Context) (*Page, error) {
	delay := h.cfg.ReconnectDelay()
	for {
		p, err := Load(ctx, h.client, h.cfg.PageURL)
		if err == nil {
			return p, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warning("Failed to load page, retrying", "url", h.cfg.PageURL, "error", err, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// serve attaches a live-reload connection to p and returns nil once p has
// navigated away and the connection is closed.
func (h *Host) serve(ctx context.Context, p *Page) error {
	defer p.Close()

	dispatcher := command.NewDispatcher(p, stylesheet.NewRefresher(p.Document))
	m, err := connection.NewManager(connection.Options{
		URL:               h.cfg.URL,
		ReconnectInterval: h.cfg.ReconnectDelay(),
		Dialer:            h.dialer,
		Handler:           dispatcher,
		Reloader:          p,
		Scheduler:         h.scheduler,
		OnStateChange:     h.OnStateChange,
	})
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- m.Run(ctx)
	}()

	select {
	case <-p.Unloading():
		m.Shutdown()
		if err := <-runErr; err != nil {
			return err
		}
		return nil
	case err := <-runErr:
		if err != nil {
			return err
		}
	}

	// The server closed the channel normally. The page stays as it is
	// until it navigates.
	logger.Info("Live reload disconnected", "url", h.cfg.URL)
	select {
	case <-p.Unloading():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
