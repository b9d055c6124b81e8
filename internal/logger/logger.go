// Package logger configures the dcfctl logger: a text handler on stderr,
// fanned out to a dated JSON log file when a log directory is set.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// L is the global logger instance. It discards all output until Init is called.
var L = slog.New(slog.NewTextHandler(io.Discard, nil))

var file *os.File

const (
	logPrefix            = "dcfctl-"
	logSuffix            = ".log"
	defaultRetentionDays = 30
)

// Options configures the logger initialization.
type Options struct {
	Level         slog.Level // minimum level on stderr
	Quiet         bool       // drop stderr output entirely
	Stderr        io.Writer  // defaults to os.Stderr
	Dir           string     // log file directory, empty for none
	RetentionDays int        // log files older than this are removed
	Now           func() time.Time
}

// Init builds L from opts. Call Close before exiting to release the log file.
func Init(opts Options) error {
	if err := Close(); err != nil {
		return err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var handlers []slog.Handler
	if !opts.Quiet {
		w := opts.Stderr
		if w == nil {
			w = os.Stderr
		}
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level}))
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return err
		}
		retention := opts.RetentionDays
		if retention <= 0 {
			retention = defaultRetentionDays
		}
		cleanOldLogs(opts.Dir, now().AddDate(0, 0, -retention))

		name := filepath.Join(opts.Dir, logPrefix+now().Format("2006-01-02")+logSuffix)
		f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		file = f
		// The file always records debug so a failed session can be replayed.
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	switch len(handlers) {
	case 0:
		L = slog.New(slog.NewTextHandler(io.Discard, nil))
	case 1:
		L = slog.New(handlers[0])
	default:
		L = slog.New(slogmulti.Fanout(handlers...))
	}
	return nil
}

// Close releases the log file, if any, and resets L to discard.
func Close() error {
	L = slog.New(slog.NewTextHandler(io.Discard, nil))
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// cleanOldLogs removes log files dated before cutoff. Errors are ignored.
func cleanOldLogs(dir string, cutoff time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, logPrefix) || !strings.HasSuffix(name, logSuffix) {
			continue
		}
		// dcfctl-2024-01-05.log
		dateStr := strings.TrimPrefix(strings.TrimSuffix(name, logSuffix), logPrefix)
		logDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if logDate.Before(cutoff) {
			os.Remove(filepath.Join(dir, name))
		}
	}
}
