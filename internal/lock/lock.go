package lock

import (
	"fmt"
	"time"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
)

// Lock grants exclusive use of one service type until it expires, is released or is cancelled
type Lock struct {
	ID          string                `json:"id"`
	ServiceType synctypes.ServiceType `json:"service_type"`
	HolderID    string                `json:"holder_id"`
	AcquiredAt  time.Time             `json:"acquired_at"`
	ExpiresAt   time.Time             `json:"expires_at"`
	Cancelled   bool                  `json:"cancelled"`
}

// Live reports whether the lock still excludes others at now
func (l *Lock) Live(now time.Time) bool {
	return !l.Cancelled && now.Before(l.ExpiresAt)
}

// BusyError tells the caller who holds the lock they asked for
type BusyError struct {
	ServiceType synctypes.ServiceType
	HolderID    string
	HeldFor     time.Duration
	ExpiresIn   time.Duration
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s: %s is held by %s, started %s ago", synctypes.ErrBusy, e.ServiceType, e.HolderID, e.HeldFor.Round(time.Second))
}

func (e *BusyError) Unwrap() error {
	return synctypes.ErrBusy
}
