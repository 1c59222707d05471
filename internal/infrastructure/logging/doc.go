// Package logging builds the sensor's zap loggers.
//
// Production loggers write sampled JSON to stderr; development loggers
// (INSTANA_DEBUG) write colored console output at debug level. All loggers
// are named "instana" so sensor output is easy to tell apart from the
// application's own logs.
//
// Example Usage:
//
//	logger := logging.NewOrNop(logging.Config{Level: cfg.Logging.Level})
//	logger.Info("host agent ready", zap.String("endpoint", endpoint))
package logging
