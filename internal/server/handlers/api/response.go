package api

import "github.com/gin-gonic/gin"

func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	ctx.Abort()
	ctx.Error(err)
	ctx.PureJSON(status, APIError{
		Code:    code,
		Message: err.Error(),
	})
}

// AbortWithSyncError picks the status and code from the sync error kind
func AbortWithSyncError(ctx *gin.Context, err error) {
	status, code := statusOf(err)
	AbortWithError(ctx, status, code, err)
}
