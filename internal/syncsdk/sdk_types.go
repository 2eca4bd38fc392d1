package syncsdk

import (
	"time"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
)

type BeginParams struct {
	ServiceType synctypes.ServiceType    `json:"service_type"`
	Mode        synctypes.Mode           `json:"mode"`
	Manifest    synctypes.ClientManifest `json:"manifest"`
	Description string                   `json:"description,omitempty"`
}

type BeginResponse struct {
	TransactionID string                `json:"transaction_id"`
	ServiceType   synctypes.ServiceType `json:"service_type"`
	Mode          synctypes.Mode        `json:"mode"`
	LockID        string                `json:"lock_id"`
	Plan          synctypes.ActionPlan  `json:"plan"`
	// Deferred lists actions the mode left out of Plan
	Deferred synctypes.ActionPlan `json:"deferred"`
}

type PlanResponse struct {
	TransactionID string               `json:"transaction_id"`
	Plan          synctypes.ActionPlan `json:"plan"`
}

type UploadResponse struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
}

type ApplyParams struct {
	Resolutions map[string]synctypes.Winner `json:"resolutions,omitempty"`
}

// Record is one stored revision
type Record struct {
	ServiceType  synctypes.ServiceType `json:"service_type"`
	Path         string                `json:"path"`
	Revision     int                   `json:"revision"`
	ContentHash  string                `json:"content_hash,omitempty"`
	Size         int64                 `json:"size"`
	ModifiedAt   time.Time             `json:"modified_at"`
	IsDeleted    bool                  `json:"is_deleted"`
	Owner        string                `json:"owner"`
	ChangelistID int64                 `json:"changelist_id,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

type ActionResult struct {
	Action    synctypes.Action `json:"action"`
	Outcome   string           `json:"outcome"`
	Error     string           `json:"error,omitempty"`
	Record    *Record          `json:"record,omitempty"`
	Preserved *Record          `json:"preserved,omitempty"`
}

const (
	OutcomeApplied   = "applied"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeUnapplied = "unapplied"

	StatusCommitted         = "committed"
	StatusPartialIncomplete = "partial_incomplete"
	StatusRolledBack        = "rolled_back"
)

type Result struct {
	TransactionID    string                `json:"transaction_id"`
	ServiceType      synctypes.ServiceType `json:"service_type"`
	Mode             synctypes.Mode        `json:"mode"`
	Status           string                `json:"status"`
	Downloaded       int                   `json:"downloaded"`
	Uploaded         int                   `json:"uploaded"`
	Deleted          int                   `json:"deleted"`
	Conflicted       int                   `json:"conflicted"`
	Skipped          int                   `json:"skipped"`
	Failed           int                   `json:"failed"`
	Unapplied        int                   `json:"unapplied"`
	BytesTransferred int64                 `json:"bytes_transferred"`
	Elapsed          time.Duration         `json:"elapsed"`
	StartedAt        time.Time             `json:"started_at"`
	FinishedAt       time.Time             `json:"finished_at"`
	SyncedAt         time.Time             `json:"synced_at"`
	Actions          []ActionResult        `json:"actions"`
	Error            string                `json:"error,omitempty"`
}

type ListResponse struct {
	ServiceType synctypes.ServiceType   `json:"service_type"`
	Files       []synctypes.ServerEntry `json:"files"`
	Tombstones  map[string]time.Time    `json:"tombstones,omitempty"`
}

type HistoryResponse struct {
	Path      string    `json:"path"`
	Revisions []*Record `json:"revisions"`
}

// FileMeta is read from the headers of a content download
type FileMeta struct {
	Path        string
	Revision    int
	ContentHash string
	Size        int64
	ModifiedAt  time.Time
}

type ServiceStatus struct {
	ServiceType synctypes.ServiceType `json:"service_type"`
	Locked      bool                  `json:"locked"`
	Holder      string                `json:"holder,omitempty"`
	AcquiredAt  *time.Time            `json:"acquired_at,omitempty"`
	ExpiresAt   *time.Time            `json:"expires_at,omitempty"`
	Message     string                `json:"message"`
}

type StatusResponse struct {
	Services []ServiceStatus `json:"services"`
}

type TransactionInfo struct {
	ID          string                `json:"id"`
	ServiceType synctypes.ServiceType `json:"service_type"`
	Mode        synctypes.Mode        `json:"mode"`
	Owner       string                `json:"owner"`
	Description string                `json:"description,omitempty"`
	LockID      string                `json:"lock_id"`
	State       string                `json:"state"`
	Actions     int                   `json:"actions"`
	CreatedAt   time.Time             `json:"created_at"`
}

type TransactionsResponse struct {
	Transactions []TransactionInfo `json:"transactions"`
}

type Operation struct {
	ID               string `json:"id"`
	ServiceType      string `json:"service_type"`
	Owner            string `json:"owner"`
	Mode             string `json:"mode"`
	Description      string `json:"description,omitempty"`
	Status           string `json:"status"`
	StartedAt        string `json:"started_at"`
	FinishedAt       string `json:"finished_at,omitempty"`
	FilesPulled      int    `json:"files_pulled"`
	FilesPushed      int    `json:"files_pushed"`
	FilesDeleted     int    `json:"files_deleted"`
	Conflicts        int    `json:"conflicts"`
	BytesTransferred int64  `json:"bytes_transferred"`
	Error            string `json:"error,omitempty"`
}

type OperationsResponse struct {
	Operations []Operation `json:"operations"`
}
