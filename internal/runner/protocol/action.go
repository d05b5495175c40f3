package protocol

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when an action name is not part of the vocabulary.
var ErrUnknownAction = errors.New("unknown action")

// Action is the request discriminator. The set is closed: every value below
// actionCount has a wire name, and ParseAction is the only way to turn a wire
// string into an Action.
type Action uint8

const (
	ActionNone Action = iota
	ActionListInstances
	ActionGetInstance
	ActionCreateInstance
	ActionUpdateInstance
	ActionDeleteInstance
	ActionStartInstance
	ActionStopInstance
	ActionTerminateInstance
	ActionListImages

	actionCount
)

var actionNames = [actionCount]string{
	ActionNone:              "",
	ActionListInstances:     "ListInstances",
	ActionGetInstance:       "GetInstance",
	ActionCreateInstance:    "CreateInstance",
	ActionUpdateInstance:    "UpdateInstance",
	ActionDeleteInstance:    "DeleteInstance",
	ActionStartInstance:     "StartInstance",
	ActionStopInstance:      "StopInstance",
	ActionTerminateInstance: "TerminateInstance",
	ActionListImages:        "ListImages",
}

var actionsByName = func() map[string]Action {
	m := make(map[string]Action, actionCount)
	for a := ActionNone; a < actionCount; a++ {
		m[actionNames[a]] = a
	}
	return m
}()

// ParseAction maps a wire name to its Action. Names are case-sensitive.
func ParseAction(name string) (Action, error) {
	if a, ok := actionsByName[name]; ok {
		return a, nil
	}
	return ActionNone, fmt.Errorf("%w %q", ErrUnknownAction, name)
}

// Actions returns the whole vocabulary in declaration order.
func Actions() []Action {
	out := make([]Action, 0, actionCount)
	for a := ActionNone; a < actionCount; a++ {
		out = append(out, a)
	}
	return out
}

// Valid reports whether a is part of the vocabulary.
func (a Action) Valid() bool { return a < actionCount }

// String returns the wire name of a.
func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
	return actionNames[a]
}

// Label is the name used for logs and metric labels, where the empty
// no-op action needs to be visible.
func (a Action) Label() string {
	if a == ActionNone {
		return "None"
	}
	return a.String()
}
