package tx

import (
	"github.com/InsereNomen/AlderSync/internal/synctypes"
)

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

type UploadRequest struct {
	Path string `form:"path" binding:"required"`
}

type UploadResponse struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
}

type ApplyRequest struct {
	Resolutions map[string]synctypes.Winner `json:"resolutions,omitempty"`
}
