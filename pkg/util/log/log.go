package log

import (
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
	"github.com/grafana/dskit/server"
)

// Logger is a shared go-kit logger. Components should prefer a logger passed
// through their constructor; the global exists for the few places wired
// before the server is up.
var Logger = kitlog.NewNopLogger()

// InitLogger initialises the global gokit logger and overrides the logger
// used by the server.
func InitLogger(cfg *server.Config) {
	writer := kitlog.NewSyncWriter(os.Stderr)
	logger := kitlog.With(dslog.NewGoKitWithWriter(cfg.LogFormat, writer), "ts", kitlog.DefaultTimestampUTC)

	// The package global reaches the log call through one more stack frame
	// than the server's logger does.
	Logger = level.NewFilter(kitlog.With(logger, "caller", kitlog.Caller(5)), cfg.LogLevel.Option)
	cfg.Log = level.NewFilter(kitlog.With(logger, "caller", kitlog.Caller(6)), cfg.LogLevel.Option)
}
