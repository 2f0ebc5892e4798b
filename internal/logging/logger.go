package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LogLevel is the minimum severity written
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

const (
	defaultMaxSize    = 10 * 1024 * 1024
	defaultMaxBackups = 3
)

// Config controls where careops logs go
type Config struct {
	Level      LogLevel
	OutputFile string // empty means stderr only
	MaxSize    int64  // bytes before the file is rotated
	MaxBackups int
	JSONFormat bool
	AddSource  bool

	// Hospital is attached to every record when set
	Hospital string

	// Output overrides stderr. Tests point this at a buffer.
	Output io.Writer
}

// ParseLevel maps "debug", "info", "warn" or "error" to a LogLevel.
// Anything else is INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger owns the slog handler and the optional log file behind it
type Logger struct {
	slog *slog.Logger
	mu   sync.Mutex
	file *os.File
}

var (
	global *Logger
	once   sync.Once
)

// Initialize builds the process logger once and installs it as the slog
// default. Components derive theirs with slog.Default().With("component", ...).
func Initialize(cfg Config) error {
	var initErr error
	once.Do(func() {
		l, err := NewLogger(cfg)
		if err != nil {
			initErr = fmt.Errorf("failed to initialize logger: %w", err)
			return
		}
		global = l
		slog.SetDefault(l.slog)
	})
	return initErr
}

// NewLogger opens the configured outputs and returns a logger writing to all of them
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = defaultMaxBackups
	}

	// stderr keeps stdout free for --json output
	console := cfg.Output
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{console}

	l := &Logger{}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		if err := rotate(cfg.OutputFile, cfg.MaxSize, cfg.MaxBackups); err != nil {
			return nil, fmt.Errorf("failed to rotate logs: %w", err)
		}
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		l.file = f
		writers = append(writers, f)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel(), AddSource: cfg.AddSource}
	out := io.MultiWriter(writers...)

	var h slog.Handler
	if cfg.JSONFormat {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	l.slog = slog.New(h)
	if cfg.Hospital != "" {
		l.slog = l.slog.With("hospital", cfg.Hospital)
	}
	return l, nil
}

// rotate shifts path.1..path.N-1 up by one and moves path to path.1 once it
// has reached maxSize
func rotate(path string, maxSize int64, backups int) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size() < maxSize {
		return nil
	}

	for i := backups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, fmt.Sprintf("%s.%d", path, i+1))
		}
	}
	return os.Rename(path, path+".1")
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child logger sharing the same outputs
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), file: l.file}
}

// Slog exposes the underlying logger
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Close closes the log file if one is open
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Close closes the process logger installed by Initialize
func Close() error {
	if global == nil {
		return nil
	}
	return global.Close()
}
