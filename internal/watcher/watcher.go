package watcher

import (
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Operation is the kind of change observed on an input file.
type Operation int

const (
	// OpCreate indicates the file appeared.
	OpCreate Operation = iota
	// OpModify indicates the file was written or replaced.
	OpModify
	// OpDelete indicates the file is gone.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change to one input file.
type FileEvent struct {
	// Path is the absolute path of the input file.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// DefaultExtensions are the input formats the loader understands.
var DefaultExtensions = []string{".jsonl", ".ndjson", ".json", ".csv"}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is how long a file must be quiet before its change
	// is reported. Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the interval for polling mode. Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the size of the batch channel buffer. Default: 16
	EventBufferSize int

	// Extensions selects files inside a watched directory.
	// Default: DefaultExtensions
	Extensions []string

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 16,
		Extensions:      DefaultExtensions,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if len(o.Extensions) == 0 {
		o.Extensions = defaults.Extensions
	}
	return o
}

// target is the resolved thing being watched.
type target struct {
	dir string
	// file is empty when the whole directory is watched.
	file       string
	extensions []string
}

// matches reports whether path is an input file of this target.
func (t target) matches(path string) bool {
	if filepath.Dir(path) != t.dir {
		return false
	}
	if t.file != "" {
		return path == t.file
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return slices.Contains(t.extensions, strings.ToLower(filepath.Ext(base)))
}
