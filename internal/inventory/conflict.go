package inventory

import (
	"fmt"
	"time"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
)

// ResolutionMap carries caller chosen winners keyed by path
type ResolutionMap map[string]synctypes.Winner

// DefaultResolution picks the copy with the strictly later modification time.
// Equal times go to the server so that re-running a comparison gives the same answer.
func DefaultResolution(se synctypes.ServerEntry, ce synctypes.ClientEntry) synctypes.Resolution {
	winner := synctypes.WinnerServer
	if truncate(ce.ModifiedAt).After(truncate(se.ModifiedAt)) {
		winner = synctypes.WinnerClient
	}
	return synctypes.Resolution{Winner: winner, Source: synctypes.SourcePolicy}
}

// Validate rejects unknown winners and paths that are not conflicts in plan
func (m ResolutionMap) Validate(plan synctypes.ActionPlan) error {
	for p, w := range m {
		if !w.Valid() {
			return fmt.Errorf("%w: unknown winner %q for %q", synctypes.ErrInvalidManifest, w, p)
		}
		a, ok := plan.Find(p)
		if !ok || a.Kind != synctypes.ActionConflict {
			return fmt.Errorf("%w: %q is not a conflict in this plan", synctypes.ErrInvalidManifest, p)
		}
	}
	return nil
}

// Apply returns a copy of plan with overridden conflict winners.
// Entries for paths that are not conflicts are ignored.
func (m ResolutionMap) Apply(plan synctypes.ActionPlan) synctypes.ActionPlan {
	out := synctypes.ActionPlan{Actions: make([]synctypes.Action, len(plan.Actions))}
	copy(out.Actions, plan.Actions)

	for i, a := range out.Actions {
		if a.Kind != synctypes.ActionConflict {
			continue
		}
		if w, ok := m[a.Path]; ok && w.Valid() {
			out.Actions[i].Resolution = &synctypes.Resolution{Winner: w, Source: synctypes.SourceOverride}
		}
	}
	return out
}

func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(synctypes.TimeResolution)
}
