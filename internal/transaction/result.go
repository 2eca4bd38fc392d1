package transaction

import (
	"time"

	"github.com/InsereNomen/AlderSync/internal/revision"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
)

// ActionResult reports one planned action. Record is the store revision the
// action produced or delivered, if any.
type ActionResult struct {
	Action  synctypes.Action     `json:"action"`
	Outcome Outcome              `json:"outcome"`
	Error   string               `json:"error,omitempty"`
	Record  *revision.FileRecord `json:"record,omitempty"`
	// Preserved is the history revision holding the losing client copy of a conflict
	Preserved *revision.FileRecord `json:"preserved,omitempty"`
	// Received counts client bytes stored, Delivered the server bytes handed to the client
	Received  int64 `json:"received,omitempty"`
	Delivered int64 `json:"delivered,omitempty"`
}

// Result is the terminal report of a transaction
type Result struct {
	TransactionID string                `json:"transaction_id"`
	ServiceType   synctypes.ServiceType `json:"service_type"`
	Mode          synctypes.Mode        `json:"mode"`
	Status        State                 `json:"status"`
	Downloaded    int                   `json:"downloaded"`
	Uploaded      int                   `json:"uploaded"`
	Deleted       int                   `json:"deleted"`
	Conflicted    int                   `json:"conflicted"`
	Skipped       int                   `json:"skipped"`
	Failed        int                   `json:"failed"`
	Unapplied     int                   `json:"unapplied"`
	// BytesTransferred counts what moved during apply. Content the client
	// fetches after the transaction is not included.
	BytesTransferred int64         `json:"bytes_transferred"`
	Elapsed          time.Duration `json:"elapsed"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	// SyncedAt is the server time the client should remember as its last sync
	SyncedAt time.Time      `json:"synced_at"`
	Actions  []ActionResult `json:"actions"`
	Error    string         `json:"error,omitempty"`
	// Err is the reason the transaction stopped early
	Err error `json:"-"`
}

func (r *Result) tally() {
	r.Downloaded, r.Uploaded, r.Deleted, r.Conflicted = 0, 0, 0, 0
	r.Skipped, r.Failed, r.Unapplied = 0, 0, 0
	r.BytesTransferred = 0

	for _, ar := range r.Actions {
		switch ar.Outcome {
		case OutcomeSkipped:
			r.Skipped++
			continue
		case OutcomeFailed:
			r.Failed++
			continue
		case OutcomeUnapplied:
			r.Unapplied++
			continue
		}

		switch ar.Action.Kind {
		case synctypes.ActionDownload:
			r.Downloaded++
		case synctypes.ActionUpload:
			r.Uploaded++
		case synctypes.ActionDeleteLocal, synctypes.ActionDeleteRemote:
			r.Deleted++
		case synctypes.ActionConflict:
			r.Conflicted++
		}
		r.BytesTransferred += ar.Received + ar.Delivered
	}
}

func (r *Result) anyApplied() bool {
	for _, ar := range r.Actions {
		if ar.Outcome == OutcomeApplied {
			return true
		}
	}
	return false
}

// UnappliedActions returns the actions that were abandoned
func (r *Result) UnappliedActions() []synctypes.Action {
	var out []synctypes.Action
	for _, ar := range r.Actions {
		if ar.Outcome == OutcomeUnapplied {
			out = append(out, ar.Action)
		}
	}
	return out
}
