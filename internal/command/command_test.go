package command

import (
	"log/slog"
	"testing"

	"github.com/lawnchairsociety/livereload/internal/logger"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Command
	}{
		{"reload", "reload", Reload{}},
		{"reload with argument", "reload:now", Reload{}},
		{"update css", "update_css:app.css", UpdateCSS{File: "app.css"}},
		{"update css keeps remainder", "update_css:a:b.css", UpdateCSS{File: "a:b.css"}},
		{"update css missing argument", "update_css", UpdateCSS{File: ""}},
		{"update css empty argument", "update_css:", UpdateCSS{File: ""}},
		{"unknown", "foo:bar", Unknown{Cmd: "foo", Raw: "foo:bar"}},
		{"empty", "", Unknown{Cmd: "", Raw: ""}},
		{"case sensitive", "RELOAD", Unknown{Cmd: "RELOAD", Raw: "RELOAD"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.raw)
			if got != tc.want {
				t.Errorf("Parse(%q) = %#v, want %#v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Reload{}, "reload"},
		{UpdateCSS{File: "app.css"}, "update_css:app.css"},
		{Unknown{Cmd: "foo", Raw: "foo:bar"}, "foo:bar"},
	}

	for _, tc := range tests {
		if got := Format(tc.cmd); got != tc.want {
			t.Errorf("Format(%#v) = %q, want %q", tc.cmd, got, tc.want)
		}
		if got := Parse(Format(tc.cmd)); got != tc.cmd {
			t.Errorf("Parse(Format(%#v)) = %#v", tc.cmd, got)
		}
	}
}

type recordingPage struct {
	reloads   int
	refreshed []string
}

func (p *recordingPage) Reload()             { p.reloads++ }
func (p *recordingPage) Refresh(file string) { p.refreshed = append(p.refreshed, file) }

func TestDispatcher_Reload(t *testing.T) {
	page := &recordingPage{}
	NewDispatcher(page, page).Handle("reload")

	if page.reloads != 1 {
		t.Errorf("expected 1 reload, got %d", page.reloads)
	}
	if len(page.refreshed) != 0 {
		t.Errorf("reload must not touch stylesheets, got %v", page.refreshed)
	}
}

func TestDispatcher_UpdateCSS(t *testing.T) {
	page := &recordingPage{}
	d := NewDispatcher(page, page)

	d.Handle("update_css:app.css")
	d.Handle("update_css:app.css")

	if page.reloads != 0 {
		t.Errorf("update_css must not reload, got %d reloads", page.reloads)
	}
	if len(page.refreshed) != 2 || page.refreshed[0] != "app.css" || page.refreshed[1] != "app.css" {
		t.Errorf("expected two refreshes of app.css, got %v", page.refreshed)
	}
}

func TestDispatcher_UpdateCSSPassesArgumentUnchanged(t *testing.T) {
	page := &recordingPage{}
	d := NewDispatcher(page, page)

	d.Handle("update_css: app.css")
	d.Handle("update_css:a:b.css")

	if len(page.refreshed) != 2 || page.refreshed[0] != " app.css" || page.refreshed[1] != "a:b.css" {
		t.Errorf("expected the whole remainder as filename, got %q", page.refreshed)
	}
}

func TestDispatcher_UpdateCSSWithoutFile(t *testing.T) {
	rec := logger.Capture(slog.LevelDebug)
	defer logger.SetHandler(nil, "")

	page := &recordingPage{}
	d := NewDispatcher(page, page)

	for _, raw := range []string{"update_css", "update_css:", "update_css:   "} {
		d.Handle(raw)
	}

	if len(page.refreshed) != 0 {
		t.Errorf("missing filename must be a no-op, got %v", page.refreshed)
	}
	if page.reloads != 0 {
		t.Errorf("missing filename must not reload")
	}
	if !rec.Contains("without a filename") {
		t.Errorf("expected a diagnostic, got %s", rec.String())
	}
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	rec := logger.Capture(slog.LevelDebug)
	defer logger.SetHandler(nil, "")

	page := &recordingPage{}
	NewDispatcher(page, page).Handle("foo:bar")

	if page.reloads != 0 || len(page.refreshed) != 0 {
		t.Errorf("unknown command must be a no-op, got reloads=%d refreshed=%v", page.reloads, page.refreshed)
	}
	if !rec.Contains("Received unknown command") || !rec.Contains("data=foo:bar") {
		t.Errorf("expected unknown-command diagnostic, got %s", rec.String())
	}
}
