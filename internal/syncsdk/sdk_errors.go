package syncsdk

import (
	"errors"
	"fmt"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL      = errors.New("sdk: server url missing")
	ErrInvalidServerURL = errors.New("sdk: server url must be http(s)://host")
	ErrNoIdentity       = errors.New("sdk: user or access token required")
	ErrUnauthorized     = errors.New("sdk: unauthorized")
	ErrAccessDenied     = errors.New("sdk: access denied")
)

const (
	CodeInvalidRequest         = "E_INVALID_REQUEST"
	CodeRateLimited            = "E_RATE_LIMITED"
	CodeInternalError          = "E_INTERNAL_ERROR"
	CodeAccessDenied           = "E_ACCESS_DENIED"
	CodeUnknownError           = "E_UNKNOWN_ERR"
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS"

	CodeBusy            = "E_BUSY"
	CodeInvalidManifest = "E_INVALID_MANIFEST"
	CodeNotFound        = "E_NOT_FOUND"
	CodeTxNotFound      = "E_TX_NOT_FOUND"
	CodeInvalidState    = "E_INVALID_STATE"
	CodeIntegrity       = "E_INTEGRITY"
	CodeStoreFailure    = "E_STORE_FAILURE"
	CodeLockExpired     = "E_LOCK_EXPIRED"
	CodeLockCancelled   = "E_LOCK_CANCELLED"
)

// sentinels maps API codes back to the errors the server raised
var sentinels = map[string]error{
	CodeBusy:                   synctypes.ErrBusy,
	CodeInvalidManifest:        synctypes.ErrInvalidManifest,
	CodeNotFound:               synctypes.ErrNotFound,
	CodeTxNotFound:             synctypes.ErrTransactionNotFound,
	CodeInvalidState:           synctypes.ErrInvalidState,
	CodeIntegrity:              synctypes.ErrIntegrity,
	CodeStoreFailure:           synctypes.ErrStoreFailure,
	CodeLockExpired:            synctypes.ErrExpired,
	CodeLockCancelled:          synctypes.ErrCancelled,
	CodeAuthInvalidCredentials: ErrUnauthorized,
	CodeAccessDenied:           ErrAccessDenied,
}

// APIError represents AlderSync API errors
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// Unwrap lets errors.Is match the sync sentinel behind the code
func (e *APIError) Unwrap() error {
	return sentinels[e.Code]
}

// handleAPIError is a helper function that handles the common error pattern
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() {
		if err, ok := resp.ErrorResult().(*APIError); ok && err.Code != "" {
			return fmt.Errorf("%s: %w", operation, err)
		}
		return fmt.Errorf("%s: %w", operation, &APIError{
			Code:    CodeUnknownError,
			Message: fmt.Sprintf("status %d", resp.GetStatusCode()),
		})
	}

	return nil
}
