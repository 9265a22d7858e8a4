package journal

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v3"
)

// storeLogger routes badger's printf logging into the journal's slog logger.
// Badger is chatty at info level, so its info lines are demoted to debug.
type storeLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = storeLogger{}

func newStoreLogger(logger *slog.Logger) storeLogger {
	return storeLogger{logger: logger.WithGroup("store")}
}

func (l storeLogger) line(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

func (l storeLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(l.line(format, args))
}

func (l storeLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(l.line(format, args))
}

func (l storeLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(l.line(format, args))
}

func (l storeLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(l.line(format, args))
}
