// Package telemetry implements intelligent log output routing that directs
// error messages to stderr while sending other log levels to stdout, so
// container log collectors can apply different retention and alerting
// rules per stream.
package telemetry

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// whether logrus rendered them at error level.
type OutputSplitter struct{}

// Write implements io.Writer, inspecting the rendered line for "level=error".
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the process-wide logger. Components accept a *logrus.Logger
// explicitly rather than importing this global directly, except at the
// composition root (cmd/teltubby) where it is configured once at startup.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
