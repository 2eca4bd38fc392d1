package middlewares

import (
	"time"

	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
)

type SecureOptions struct {
	// HSTSMaxAge is sent as Strict-Transport-Security max-age. Zero omits the header.
	HSTSMaxAge time.Duration
	// BehindProxy treats X-Forwarded-Proto: https as a TLS request
	BehindProxy bool
}

// Secure adds the security headers for a server reached over TLS
func Secure(opts SecureOptions) gin.HandlerFunc {
	cfg := secure.Config{
		STSSeconds:           int64(opts.HSTSMaxAge / time.Second),
		STSIncludeSubdomains: opts.HSTSMaxAge > 0,
		FrameDeny:            true,
		ContentTypeNosniff:   true,
		IENoOpen:             true,
	}
	if opts.BehindProxy {
		cfg.SSLProxyHeaders = map[string]string{"X-Forwarded-Proto": "https"}
	}
	return secure.New(cfg)
}
