package middlewares

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
)

type AccessLogOptions struct {
	// Level for successful requests. Client errors log at Warn or above.
	Level     slog.Level
	SkipPaths []string
}

func Logger(opts AccessLogOptions) gin.HandlerFunc {
	httpLogger := slog.Default().WithGroup("http")

	filters := make([]slogGin.Filter, 0, 1)
	if len(opts.SkipPaths) > 0 {
		filters = append(filters, slogGin.IgnorePath(opts.SkipPaths...))
	}

	return slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     opts.Level,
		ClientErrorLevel: max(opts.Level, slog.LevelWarn),
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
		Filters:          filters,
	})
}
