package command

import (
	"strings"

	"github.com/lawnchairsociety/livereload/internal/logger"
)

// Reloader triggers a full page reload.
type Reloader interface {
	Reload()
}

// Refresher refreshes the stylesheets matching a filename.
type Refresher interface {
	Refresh(file string)
}

// Dispatcher routes parsed commands to the page.
type Dispatcher struct {
	reloader  Reloader
	refresher Refresher
}

// NewDispatcher creates a dispatcher over the page's reload and stylesheet refresh.
func NewDispatcher(reloader Reloader, refresher Refresher) *Dispatcher {
	return &Dispatcher{
		reloader:  reloader,
		refresher: refresher,
	}
}

// Handle parses and dispatches one inbound message.
func (d *Dispatcher) Handle(raw string) {
	d.Dispatch(Parse(raw))
}

// Dispatch runs cmd. Unknown or malformed commands are logged and ignored.
func (d *Dispatcher) Dispatch(cmd Command) {
	switch c := cmd.(type) {
	case Reload:
		logger.Info("Reloading...")
		d.reloader.Reload()
	case UpdateCSS:
		if strings.TrimSpace(c.File) == "" {
			logger.Warning("Received update_css without a filename, ignoring")
			return
		}
		d.refresher.Refresh(c.File)
	case Unknown:
		logger.Info("Received unknown command", "command", c.Cmd, "data", c.Raw)
	}
}
