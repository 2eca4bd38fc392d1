package files

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/InsereNomen/AlderSync/internal/ignore"
	"github.com/InsereNomen/AlderSync/internal/revision"
	"github.com/InsereNomen/AlderSync/internal/server/handlers/api"
	"github.com/InsereNomen/AlderSync/internal/server/middlewares"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/transaction"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/gin-gonic/gin"
)

const (
	HeaderContentHash = "X-Content-Hash"
	HeaderRevision    = "X-Revision"
	HeaderModifiedAt  = "X-Modified-At"
)

// Reader is the read side of the revision store
type Reader interface {
	Get(ctx context.Context, st synctypes.ServiceType, path string, rev *int) (io.ReadCloser, *revision.FileRecord, error)
	ListCurrent(ctx context.Context, st synctypes.ServiceType) (synctypes.ServerManifest, error)
}

type FilesHandler struct {
	store        Reader
	orchestrator *transaction.Orchestrator
	ignore       *ignore.List
}

func New(store Reader, orchestrator *transaction.Orchestrator, ignoreList *ignore.List) *FilesHandler {
	return &FilesHandler{store: store, orchestrator: orchestrator, ignore: ignoreList}
}

// List returns the current files of a service type, optionally filtered by a doublestar glob
func (h *FilesHandler) List(ctx *gin.Context) {
	st, ok := serviceType(ctx)
	if !ok {
		return
	}

	var req ListRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}
	if req.Glob != "" && !doublestar.ValidatePattern(req.Glob) {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid glob %q", req.Glob))
		return
	}

	manifest, err := h.store.ListCurrent(ctx.Request.Context(), st)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}
	manifest = h.ignore.FilterServer(manifest)

	res := &ListResponse{
		ServiceType: st,
		Files:       make([]synctypes.ServerEntry, 0, len(manifest.Files)),
		Tombstones:  make(map[string]time.Time),
	}
	for p, e := range manifest.Files {
		if matches(req.Glob, p) {
			res.Files = append(res.Files, e)
		}
	}
	for p, ts := range manifest.Tombstones {
		if matches(req.Glob, p) {
			res.Tombstones[p] = ts
		}
	}
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })

	ctx.PureJSON(http.StatusOK, res)
}

// Content streams one revision, the current one unless revision is given
func (h *FilesHandler) Content(ctx *gin.Context) {
	st, ok := serviceType(ctx)
	if !ok {
		return
	}

	var req ContentRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	body, rec, err := h.store.Get(ctx.Request.Context(), st, req.Path, req.Revision)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}
	defer body.Close()

	ctx.DataFromReader(http.StatusOK, rec.Size, "application/octet-stream", body, map[string]string{
		HeaderContentHash: rec.ContentHash,
		HeaderRevision:    strconv.Itoa(rec.Revision),
		HeaderModifiedAt:  rec.ModifiedAt.UTC().Format(time.RFC3339),
		"Last-Modified":   rec.ModifiedAt.UTC().Format(http.TimeFormat),
	})
}

func (h *FilesHandler) History(ctx *gin.Context) {
	st, ok := serviceType(ctx)
	if !ok {
		return
	}

	var req HistoryRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	history, err := h.orchestrator.ListHistory(ctx.Request.Context(), st, req.Path)
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &HistoryResponse{Path: history[0].Path, Revisions: history})
}

// Restore makes an old revision current again
func (h *FilesHandler) Restore(ctx *gin.Context) {
	st, ok := serviceType(ctx)
	if !ok {
		return
	}

	var req RestoreRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	rec, err := h.orchestrator.RestoreRevision(ctx.Request.Context(), st, req.Path, *req.Revision, middlewares.GetUser(ctx))
	if err != nil {
		api.AbortWithSyncError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, rec)
}

func serviceType(ctx *gin.Context) (synctypes.ServiceType, bool) {
	st, err := synctypes.ParseServiceType(ctx.Param("service"))
	if err != nil {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeNotFound, err)
		return "", false
	}
	return st, true
}

func matches(glob, path string) bool {
	if glob == "" {
		return true
	}
	ok, _ := doublestar.Match(glob, path)
	return ok
}
