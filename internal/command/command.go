// Package command parses live-reload wire messages and routes them.
package command

import (
	"strings"
)

// Wire command names.
const (
	NameReload    = "reload"
	NameUpdateCSS = "update_css"
)

// Command is one parsed inbound message: Reload, UpdateCSS or Unknown.
type Command interface {
	// Name is the command name, the text before the first ':'.
	Name() string
	command()
}

// Reload asks for a full page reload.
type Reload struct{}

// UpdateCSS asks for the stylesheets matching File to be refreshed.
type UpdateCSS struct {
	File string
}

// Unknown is any command the client does not recognise.
type Unknown struct {
	Cmd string
	Raw string
}

func (Reload) Name() string    { return NameReload }
func (UpdateCSS) Name() string { return NameUpdateCSS }
func (u Unknown) Name() string { return u.Cmd }

func (Reload) command()    {}
func (UpdateCSS) command() {}
func (Unknown) command()   {}

// Parse splits raw on the first ':' into a command name and an optional
// argument (the remainder) and returns the matching Command.
func Parse(raw string) Command {
	name, arg, _ := strings.Cut(raw, ":")

	switch name {
	case NameReload:
		return Reload{}
	case NameUpdateCSS:
		return UpdateCSS{File: arg}
	default:
		return Unknown{Cmd: name, Raw: raw}
	}
}

// Format renders a command back to its wire form.
func Format(c Command) string {
	switch c := c.(type) {
	case UpdateCSS:
		return NameUpdateCSS + ":" + c.File
	case Unknown:
		return c.Raw
	default:
		return c.Name()
	}
}
