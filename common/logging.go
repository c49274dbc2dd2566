// Package common provides centralized logging infrastructure for the airlock
// release-request service. It implements output routing that directs error
// messages to stderr while sending other log levels to stdout, enabling
// proper stream separation for containerized and scripted environments.
//
// The logging system is built on logrus for structured logging with custom
// output handling. All airlock components (the API server, the upload
// scheduler, the CLI commands) log through the global Logger instance so
// that field names and formatting stay uniform across the system.
//
// Output Routing Strategy:
//
//	Error-level messages are directed to stderr for immediate attention and
//	error handling, while info, debug, and warning messages go to stdout for
//	general log processing. Container orchestrators and log aggregators can
//	then apply different processing rules per stream.
//
// Usage Patterns:
//
//	common.Logger.WithFields(logrus.Fields{
//	    "request": requestID,
//	    "user":    username,
//	}).Info("release request submitted")
//
//	common.Logger.WithError(err).Error("upload attempt failed")
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// their severity level. It examines the final formatted output, so it works
// with both the text and JSON logrus formatters.
//
// Routing Logic:
//   - Error messages (containing "level=error") → stderr
//   - All other messages (info, debug, warn) → stdout
//
// The pattern matching uses bytes.Contains on the literal "level=error"
// marker produced by logrus formatters, avoiding regex overhead on the
// logging hot path. The splitter is safe for concurrent use; it holds no
// state and writes to the thread-safe OS streams.
type OutputSplitter struct{}

// Write implements io.Writer. It routes messages containing "level=error"
// to stderr and everything else to stdout, returning the byte count and
// error from the underlying stream write.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance for the airlock service. It is
// pre-configured with the OutputSplitter for stream separation and serves
// as the central logging facility for all packages.
//
// The logger starts with logrus defaults; deployments customize it at
// startup:
//
//	// Development (human-readable)
//	common.Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
//	common.Logger.SetLevel(logrus.DebugLevel)
//
//	// Production (machine-readable)
//	common.Logger.SetFormatter(&logrus.JSONFormatter{})
//	common.Logger.SetLevel(logrus.InfoLevel)
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
