/*package logging builds the zap loggers used throughout ddgrav. Every logger
carries the rank it belongs to, so interleaved output from a multi-rank run
can be split apart again.
*/
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// New returns a console logger at the given level ("debug", "info", "warn",
// "error") tagged with rank.
func New(rank int, level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, ddgerr.ConfigErrorf(
			"LogLevel '%s' is not one of debug, info, warn, error.", level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.Sampling = nil
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build()
	if err != nil {
		return nil, ddgerr.Wrap(ddgerr.Configuration, err, "building logger")
	}
	return log.With(zap.Int("rank", rank)), nil
}

// Nop returns a logger that discards everything. Used by tests and by
// library callers who don't pass a logger.
func Nop() *zap.Logger { return zap.NewNop() }

// OrNop returns log, or a no-op logger if log is nil.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return Nop()
	}
	return log
}
