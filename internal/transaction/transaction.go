package transaction

import (
	"fmt"
	"sync"
	"time"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
)

// BeginRequest opens a transaction for one client inventory
type BeginRequest struct {
	ServiceType synctypes.ServiceType    `json:"service_type"`
	Mode        synctypes.Mode           `json:"mode"`
	Manifest    synctypes.ClientManifest `json:"manifest"`
	Owner       string                   `json:"-"`
	Description string                   `json:"description,omitempty"`
}

// Transaction holds a lock and the plan computed under it
type Transaction struct {
	ID          string
	ServiceType synctypes.ServiceType
	Mode        synctypes.Mode
	Owner       string
	Description string
	LockID      string
	CreatedAt   time.Time

	mu    sync.Mutex
	state State
	plan  synctypes.ActionPlan
	// left out by the mode filter
	deferred synctypes.ActionPlan
}

// Info is a point in time view of a transaction
type Info struct {
	ID          string                `json:"id"`
	ServiceType synctypes.ServiceType `json:"service_type"`
	Mode        synctypes.Mode        `json:"mode"`
	Owner       string                `json:"owner"`
	Description string                `json:"description,omitempty"`
	LockID      string                `json:"lock_id"`
	State       State                 `json:"state"`
	Actions     int                   `json:"actions"`
	CreatedAt   time.Time             `json:"created_at"`
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) Plan() synctypes.ActionPlan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plan
}

// Deferred returns the actions a full reconcile would add to the plan.
// The client keeps them in mind until a later sync applies them.
func (t *Transaction) Deferred() synctypes.ActionPlan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deferred
}

func (t *Transaction) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Info{
		ID:          t.ID,
		ServiceType: t.ServiceType,
		Mode:        t.Mode,
		Owner:       t.Owner,
		Description: t.Description,
		LockID:      t.LockID,
		State:       t.state,
		Actions:     t.plan.Len(),
		CreatedAt:   t.CreatedAt,
	}
}

func (t *Transaction) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// transition moves from one of the given states to next
func (t *Transaction) transition(next State, from ...State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range from {
		if t.state == f {
			t.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: transaction %s is %s", synctypes.ErrInvalidState, t.ID, t.state)
}
