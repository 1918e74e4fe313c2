// Package tui provides the terminal user interface of a team session.
package tui

import "github.com/runoshun/crewteam/internal/domain"

// Msg is the sealed interface for all TUI messages.
//
// go-sumtype:decl Msg
type Msg interface {
	sealed()
}

// MsgEvent carries one controller event into the UI.
type MsgEvent struct {
	Event domain.Event
}

func (MsgEvent) sealed() {}

// MsgActionDone is sent when an approve, reject, message or kill action finished.
type MsgActionDone struct {
	Err    error
	Status string
}

func (MsgActionDone) sealed() {}

// MsgEventsClosed is sent when the controller event stream ends.
type MsgEventsClosed struct{}

func (MsgEventsClosed) sealed() {}
