package files

import (
	"time"

	"github.com/InsereNomen/AlderSync/internal/revision"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
)

type ListRequest struct {
	Glob string `form:"glob"`
}

type ListResponse struct {
	ServiceType synctypes.ServiceType   `json:"service_type"`
	Files       []synctypes.ServerEntry `json:"files"`
	Tombstones  map[string]time.Time    `json:"tombstones,omitempty"`
}

type ContentRequest struct {
	Path     string `form:"path" binding:"required"`
	Revision *int   `form:"revision"`
}

type HistoryRequest struct {
	Path string `form:"path" binding:"required"`
}

type HistoryResponse struct {
	Path      string                 `json:"path"`
	Revisions []*revision.FileRecord `json:"revisions"`
}

type RestoreRequest struct {
	Path     string `json:"path" binding:"required"`
	Revision *int   `json:"revision" binding:"required"`
}
