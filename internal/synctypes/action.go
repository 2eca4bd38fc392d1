package synctypes

import (
	"fmt"
	"strings"
)

type ActionKind int

const (
	ActionDeleteLocal ActionKind = iota
	ActionDeleteRemote
	ActionUpload
	ActionDownload
	ActionConflict
)

var actionKindNames = map[ActionKind]string{
	ActionDeleteLocal:  "delete_local",
	ActionDeleteRemote: "delete_remote",
	ActionUpload:       "upload",
	ActionDownload:     "download",
	ActionConflict:     "conflict",
}

func (k ActionKind) String() string {
	if s, ok := actionKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(k))
}

func (k ActionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ActionKind) UnmarshalText(b []byte) error {
	for kind, name := range actionKindNames {
		if strings.EqualFold(string(b), name) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown action kind %q", string(b))
}

// Winner names the side whose content becomes current after a conflict
type Winner string

const (
	WinnerServer Winner = "server"
	WinnerClient Winner = "client"
)

func (w Winner) Valid() bool {
	return w == WinnerServer || w == WinnerClient
}

// ResolutionSource records whether a conflict winner came from the default policy or the caller
type ResolutionSource string

const (
	SourcePolicy   ResolutionSource = "policy"
	SourceOverride ResolutionSource = "override"
)

type Resolution struct {
	Winner Winner           `json:"winner"`
	Source ResolutionSource `json:"source"`
}

// Action is one step of a plan. Server and Client carry the inputs that led to it.
type Action struct {
	Kind       ActionKind   `json:"kind"`
	Path       string       `json:"path"`
	Server     *ServerEntry `json:"server,omitempty"`
	Client     *ClientEntry `json:"client,omitempty"`
	Resolution *Resolution  `json:"resolution,omitempty"`
}

// PullsFromServer reports whether content or a deletion flows from the server to the client
func (a Action) PullsFromServer() bool {
	switch a.Kind {
	case ActionDownload, ActionDeleteLocal:
		return true
	case ActionConflict:
		return a.Resolution != nil && a.Resolution.Winner == WinnerServer
	}
	return false
}

func (a Action) PushesToServer() bool {
	switch a.Kind {
	case ActionUpload, ActionDeleteRemote:
		return true
	case ActionConflict:
		return a.Resolution != nil && a.Resolution.Winner == WinnerClient
	}
	return false
}

// ActionPlan is an ordered list of actions, at most one per path
type ActionPlan struct {
	Actions []Action `json:"actions"`
}

func (p ActionPlan) Len() int {
	return len(p.Actions)
}

func (p ActionPlan) IsEmpty() bool {
	return len(p.Actions) == 0
}

// Count returns the number of actions of the given kind
func (p ActionPlan) Count(kind ActionKind) int {
	n := 0
	for _, a := range p.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Find returns the action for path, if any
func (p ActionPlan) Find(path string) (Action, bool) {
	for _, a := range p.Actions {
		if a.Path == path {
			return a, true
		}
	}
	return Action{}, false
}
