package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aldersync api error: code=%s, message=%s", e.Code, e.Message)
}

// statusOf maps a sync error to its HTTP status and API code
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, synctypes.ErrBusy):
		return http.StatusConflict, CodeBusy
	case errors.Is(err, synctypes.ErrInvalidManifest):
		return http.StatusBadRequest, CodeInvalidManifest
	case errors.Is(err, synctypes.ErrTransactionNotFound):
		return http.StatusNotFound, CodeTxNotFound
	case errors.Is(err, synctypes.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, synctypes.ErrInvalidState):
		return http.StatusConflict, CodeInvalidState
	case errors.Is(err, synctypes.ErrIntegrity):
		return http.StatusUnprocessableEntity, CodeIntegrity
	case errors.Is(err, synctypes.ErrExpired):
		return http.StatusGone, CodeLockExpired
	case errors.Is(err, synctypes.ErrCancelled):
		return http.StatusGone, CodeLockCancelled
	case errors.Is(err, synctypes.ErrStoreFailure):
		return http.StatusServiceUnavailable, CodeStoreFailure
	}
	return http.StatusInternalServerError, CodeInternalError
}
