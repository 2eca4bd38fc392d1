package middlewares

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// file bodies travel as stored so Content-Length and X-Content-Hash describe the same bytes
var rawBodyPaths = []string{
	`^/api/v1/files/[^/]+/content$`,
	`^/api/v1/tx/[^/]+/files$`,
}

// GZIP compresses JSON responses such as plans, listings and histories
func GZIP() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths([]string{"/healthz"}),
		gzip.WithExcludedPathsRegexs(rawBodyPaths),
	)
}
