package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. Packages tag their entries with For.
var Log = newLogger(os.Stdout, "info")

func newLogger(out io.Writer, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	l.SetLevel(parseLevel(level))
	return l
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Setup points the process logger at out and applies level. Unknown
// levels fall back to info.
func Setup(out io.Writer, level string) {
	Log.SetOutput(out)
	Log.SetLevel(parseLevel(level))
}

// UseText switches to the human readable formatter, used by the CLI.
func UseText() {
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// For returns an entry tagged with the service name.
func For(service string) *logrus.Entry {
	return Log.WithField("service", service)
}
