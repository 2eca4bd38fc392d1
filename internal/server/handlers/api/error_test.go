package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{fmt.Errorf("lock: %w", synctypes.ErrBusy), http.StatusConflict, CodeBusy},
		{fmt.Errorf("%w: dup", synctypes.ErrInvalidManifest), http.StatusBadRequest, CodeInvalidManifest},
		{synctypes.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{synctypes.ErrTransactionNotFound, http.StatusNotFound, CodeTxNotFound},
		{synctypes.ErrInvalidState, http.StatusConflict, CodeInvalidState},
		{synctypes.ErrIntegrity, http.StatusUnprocessableEntity, CodeIntegrity},
		{synctypes.ErrExpired, http.StatusGone, CodeLockExpired},
		{synctypes.ErrCancelled, http.StatusGone, CodeLockCancelled},
		{synctypes.ErrStoreFailure, http.StatusServiceUnavailable, CodeStoreFailure},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			status, code := statusOf(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}
