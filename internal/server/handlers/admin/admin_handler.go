package admin

import (
	"fmt"
	"net/http"

	"github.com/InsereNomen/AlderSync/internal/lock"
	"github.com/InsereNomen/AlderSync/internal/server/handlers/api"
	"github.com/InsereNomen/AlderSync/internal/server/middlewares"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/transaction"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

type AdminHandler struct {
	orchestrator *transaction.Orchestrator
	locks        *lock.Manager
	audit        *transaction.Audit
	clock        clockwork.Clock
}

func New(orchestrator *transaction.Orchestrator, locks *lock.Manager, audit *transaction.Audit, clock clockwork.Clock) *AdminHandler {
	return &AdminHandler{orchestrator: orchestrator, locks: locks, audit: audit, clock: clock}
}

// Status reports the lock of every service type
func (h *AdminHandler) Status(ctx *gin.Context) {
	now := h.clock.Now()
	res := &StatusResponse{Services: make([]ServiceStatus, 0, len(synctypes.ServiceTypes))}

	for _, st := range synctypes.ServiceTypes {
		status := ServiceStatus{ServiceType: st, Message: "available"}
		if l, ok := h.locks.Get(st); ok && l.Live(now) {
			acquired, expires := l.AcquiredAt, l.ExpiresAt
			status.Locked = true
			status.Holder = l.HolderID
			status.AcquiredAt = &acquired
			status.ExpiresAt = &expires
			status.Message = fmt.Sprintf("busy, holder is %s, started %s", l.HolderID, humanize.RelTime(l.AcquiredAt, now, "ago", "from now"))
		}
		res.Services = append(res.Services, status)
	}

	ctx.PureJSON(http.StatusOK, res)
}

func (h *AdminHandler) Transactions(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, &TransactionsResponse{
		Transactions: h.orchestrator.ActiveTransactions(),
	})
}

// Cancel is the administrative override that breaks a transaction's lock
func (h *AdminHandler) Cancel(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := h.orchestrator.CancelTransaction(ctx.Request.Context(), id); err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, gin.H{
		"transaction_id": id,
		"cancelled_by":   middlewares.GetUser(ctx),
	})
}

func (h *AdminHandler) Operations(ctx *gin.Context) {
	var req OperationsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	ops, err := h.audit.ListOperations(ctx.Request.Context(), req.Limit)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &OperationsResponse{Operations: ops})
}

func (h *AdminHandler) Changelists(ctx *gin.Context) {
	var req ChangelistsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}
	st, err := synctypes.ParseServiceType(req.ServiceType)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	cls, err := h.audit.ListChangelists(ctx.Request.Context(), st, req.Limit)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &ChangelistsResponse{Changelists: cls})
}
