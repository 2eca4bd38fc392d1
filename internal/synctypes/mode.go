package synctypes

import (
	"fmt"
	"strings"
)

// Mode restricts a transaction to one direction or allows both
type Mode string

const (
	ModePull      Mode = "pull"
	ModePush      Mode = "push"
	ModeReconcile Mode = "reconcile"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModePull, ModePush, ModeReconcile:
		return m, nil
	case "":
		return ModeReconcile, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidManifest, s)
}

// Allows reports whether an action with its resolution flows in a direction this mode permits
func (m Mode) Allows(a Action) bool {
	switch m {
	case ModePull:
		return a.PullsFromServer()
	case ModePush:
		return a.PushesToServer()
	}
	return true
}
