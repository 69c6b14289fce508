// Package log provides process-wide structured logging for the orchestration
// core. It keeps the package-level Initialize/Close shape of the original
// logger but is backed by zap so every component emits structured,
// machine-parsable records instead of formatted strings.
package log

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base    *zap.Logger
	Sugar   *zap.SugaredLogger
	logFile *os.File
)

var debugEnabled = os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"

var logFileName = filepath.Join(os.TempDir(), "orchestrator-core.log")

// Initialize should be called once at process start. daemon is true for the
// scheduler/queue-processor daemons, which get a "mode":"daemon" field on
// every record instead of the interactive console encoder.
func Initialize(daemon bool) {
	level := zapcore.InfoLevel
	if debugEnabled {
		level = zapcore.DebugLevel
	}

	var core zapcore.Core
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: using stderr for logging: %v\n", err)
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		core = zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	} else {
		logFile = f
		var enc zapcore.Encoder
		if daemon {
			enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		} else {
			cfg := zap.NewDevelopmentEncoderConfig()
			enc = zapcore.NewConsoleEncoder(cfg)
		}
		core = zapcore.NewCore(enc, zapcore.AddSync(f), level)
	}

	base = zap.New(core, zap.AddCaller())
	if daemon {
		base = base.With(zap.String("mode", "daemon"))
	}
	Sugar = base.Sugar()
}

// Close flushes buffered log entries and closes the log file.
func Close() {
	if base != nil {
		_ = base.Sync()
	}
	if logFile != nil {
		_ = logFile.Close()
		fmt.Println("wrote logs to " + logFileName)
	}
}

func ensure() {
	if Sugar == nil {
		Initialize(false)
	}
}

func Infof(format string, args ...any)  { ensure(); Sugar.Infof(format, args...) }
func Warnf(format string, args ...any)  { ensure(); Sugar.Warnf(format, args...) }
func Errorf(format string, args ...any) { ensure(); Sugar.Errorf(format, args...) }
func Debugf(format string, args ...any) { ensure(); Sugar.Debugf(format, args...) }

// With returns a child sugared logger with the given structured fields
// attached, e.g. log.With("project_id", id).Infof("claimed")
func With(args ...any) *zap.SugaredLogger {
	ensure()
	return Sugar.With(args...)
}

// Every is used to log at most once every timeout duration, matching the
// teacher's debounce helper used by noisy periodic sweeps (phantom/zombie
// detection, process-tree resource sampling).
type Every struct {
	timeout time.Duration
	last    time.Time
}

func NewEvery(timeout time.Duration) *Every {
	return &Every{timeout: timeout}
}

func (e *Every) ShouldLog() bool {
	now := time.Now()
	if now.Sub(e.last) < e.timeout {
		return false
	}
	e.last = now
	return true
}

func IsDebugEnabled() bool {
	return debugEnabled
}

// SanitizeURL removes credentials from a URL string for safe logging.
func SanitizeURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[INVALID_URL]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword("***", "***")
		} else {
			u.User = url.User("***")
		}
	}
	return u.String()
}

// SanitizeURLs sanitizes every URL-looking token in a free-form message.
func SanitizeURLs(message string) string {
	words := strings.Fields(message)
	for i, word := range words {
		if strings.Contains(word, "://") {
			words[i] = SanitizeURL(word)
		}
	}
	return strings.Join(words, " ")
}
