package tx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/InsereNomen/AlderSync/internal/server/handlers/api"
	"github.com/InsereNomen/AlderSync/internal/server/middlewares"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/transaction"
	"github.com/gin-gonic/gin"
)

type TxHandler struct {
	orchestrator *transaction.Orchestrator
	staging      *transaction.StagingArea
}

func New(orchestrator *transaction.Orchestrator, staging *transaction.StagingArea) *TxHandler {
	return &TxHandler{orchestrator: orchestrator, staging: staging}
}

func (h *TxHandler) Begin(ctx *gin.Context) {
	var req transaction.BeginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidManifest, fmt.Errorf("invalid request: %w", err))
		return
	}
	req.Owner = middlewares.GetUser(ctx)

	tx, err := h.orchestrator.BeginTransaction(ctx.Request.Context(), req)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &BeginResponse{
		TransactionID: tx.ID,
		ServiceType:   tx.ServiceType,
		Mode:          tx.Mode,
		LockID:        tx.LockID,
		Plan:          tx.Plan(),
		Deferred:      tx.Deferred(),
	})
}

func (h *TxHandler) Plan(ctx *gin.Context) {
	tx, ok := h.owned(ctx)
	if !ok {
		return
	}

	ctx.PureJSON(http.StatusOK, &PlanResponse{
		TransactionID: tx.ID,
		Plan:          tx.Plan(),
	})
}

// Upload stages the client copy of one planned path
func (h *TxHandler) Upload(ctx *gin.Context) {
	tx, ok := h.owned(ctx)
	if !ok {
		return
	}

	var req UploadRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid query: %w", err))
		return
	}

	path, err := synctypes.NormalizePath(req.Path)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}
	action, found := tx.Plan().Find(path)
	if !found || (action.Kind != synctypes.ActionUpload && action.Kind != synctypes.ActionConflict) {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidManifest, fmt.Errorf("%s does not need the client copy", path))
		return
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
		return
	}
	fd, err := file.Open()
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
		return
	}
	defer fd.Close()

	hash, size, err := h.staging.Stage(tx.ID, path, fd)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, fmt.Errorf("stage %s: %w", path, err))
		return
	}

	ctx.PureJSON(http.StatusOK, &UploadResponse{
		Path:        path,
		ContentHash: hash,
		Size:        size,
	})
}

// Apply runs the plan against the staged uploads. Downloads are fetched by
// the client afterwards using the revisions in the result.
func (h *TxHandler) Apply(ctx *gin.Context) {
	tx, ok := h.owned(ctx)
	if !ok {
		return
	}

	var req ApplyRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid request: %w", err))
			return
		}
	}

	res, err := h.orchestrator.ApplyTransaction(ctx.Request.Context(), tx.ID, transaction.ApplyOptions{
		Resolutions: req.Resolutions,
		Transfer:    h.staging.Transfer(tx.ID),
	})
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, res)
}

func (h *TxHandler) Rollback(ctx *gin.Context) {
	tx, ok := h.owned(ctx)
	if !ok {
		return
	}

	res, err := h.orchestrator.RollbackTransaction(ctx.Request.Context(), tx.ID)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, res)
}

// owned resolves the :id transaction and checks that the caller opened it
func (h *TxHandler) owned(ctx *gin.Context) (*transaction.Transaction, bool) {
	tx, err := h.orchestrator.Transaction(ctx.Param("id"))
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return nil, false
	}
	if user := middlewares.GetUser(ctx); tx.Owner != user {
		api.AbortWithError(ctx, http.StatusForbidden, api.CodeAccessDenied, errors.New("transaction belongs to another user"))
		return nil, false
	}
	return tx, true
}
