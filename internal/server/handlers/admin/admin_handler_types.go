package admin

import (
	"time"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/transaction"
)

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

type TransactionsResponse struct {
	Transactions []transaction.Info `json:"transactions"`
}

type OperationsRequest struct {
	Limit int `form:"limit"`
}

type OperationsResponse struct {
	Operations []transaction.Operation `json:"operations"`
}

type ChangelistsRequest struct {
	ServiceType string `form:"service_type" binding:"required"`
	Limit       int    `form:"limit"`
}

type ChangelistsResponse struct {
	Changelists []transaction.Changelist `json:"changelists"`
}
