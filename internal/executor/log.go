package executor

import (
	"fmt"

	"github.com/v0xg/stepflow/internal/logger"
)

// Log is the human-readable record of one task execution. It is shared by
// every nested sequence of that execution and only ever appended to.
type Log struct {
	entries []string
	logger  logger.Logger
}

// NewLog starts a log; entries are mirrored to l at debug level when non-nil
func NewLog(l logger.Logger, entries ...string) *Log {
	return &Log{entries: append([]string(nil), entries...), logger: l}
}

// Add appends a formatted entry
func (l *Log) Add(format string, args ...any) {
	entry := fmt.Sprintf(format, args...)
	l.entries = append(l.entries, entry)
	if l.logger != nil {
		l.logger.Debug(entry)
	}
}

// Entries returns a copy of the entries in order
func (l *Log) Entries() []string {
	return append([]string(nil), l.entries...)
}

func (l *Log) Len() int {
	return len(l.entries)
}
