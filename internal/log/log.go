package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var logger = newLogger(os.Stderr)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000000Z07:00",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel changes the minimum level. Unknown levels are ignored.
func SetLevel(l Level) {
	switch l {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelInfo:
		logger.SetLevel(logrus.InfoLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" (any case) to a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug, nil
	case LevelInfo, "":
		return LevelInfo, nil
	case LevelWarn, "WARNING":
		return LevelWarn, nil
	case LevelError:
		return LevelError, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// SetOutput redirects log output; used by tests.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func Debug(msg string, kv ...any) {
	logger.WithFields(fields(kv)).Debug(msg)
}

func Info(msg string, kv ...any) {
	logger.WithFields(fields(kv)).Info(msg)
}

func Warn(msg string, kv ...any) {
	logger.WithFields(fields(kv)).Warn(msg)
}

func Error(msg string, err error, kv ...any) {
	logger.WithFields(fields(kv)).WithError(err).Error(msg)
}

// fields converts alternating key/value pairs. Non-string keys and a trailing
// odd value are dropped.
func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}

// RedactURL hides everything after the host of a feed URL. Private feed
// links usually carry their secret in the path or query.
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
