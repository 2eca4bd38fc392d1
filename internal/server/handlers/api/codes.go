package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeAccessDenied   = "E_ACCESS_DENIED"   // access denied

	// Auth errors
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS" // token is invalid, expired, or malformed

	// Sync errors
	CodeBusy            = "E_BUSY"             // another transaction holds the service lock
	CodeInvalidManifest = "E_INVALID_MANIFEST" // manifest, path or resolution rejected
	CodeNotFound        = "E_NOT_FOUND"        // file or revision does not exist
	CodeTxNotFound      = "E_TX_NOT_FOUND"     // transaction unknown or already ended
	CodeInvalidState    = "E_INVALID_STATE"    // transaction is not in a state that allows the call
	CodeIntegrity       = "E_INTEGRITY"        // content does not match its declared hash
	CodeStoreFailure    = "E_STORE_FAILURE"    // revision store could not complete the operation
	CodeLockExpired     = "E_LOCK_EXPIRED"     // the transaction lock timed out
	CodeLockCancelled   = "E_LOCK_CANCELLED"   // an administrator cancelled the transaction
)
