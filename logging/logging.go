package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const maxLogSize = 2 * 1024 * 1024 // 2MB

type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// OpenRotating opens path for appending, keeping at most one backup once
// the file grows past maxSize.
func OpenRotating(path string, maxSize int64) (*RotatingWriter, error) {
	if maxSize <= 0 {
		maxSize = maxLogSize
	}

	// Truncate if too large on startup
	if info, err := os.Stat(path); err == nil && info.Size() > maxSize {
		os.Truncate(path, 0)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	info, _ := f.Stat()
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	return &RotatingWriter{
		file:    f,
		path:    path,
		size:    size,
		maxSize: maxSize,
	}, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}

	return n, err
}

func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *RotatingWriter) rotate() {
	w.file.Close()

	// Keep one backup
	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		w.file = nil
		return
	}

	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Options configures the pipeline logger.
type Options struct {
	Level     string
	Path      string // all levels
	ErrorPath string // error level and above
	MaxSize   int64
	Console   bool
}

// Logger bundles the zap logger with the files it writes to.
type Logger struct {
	*zap.Logger
	files []*RotatingWriter
}

// Close flushes the logger and closes the log files.
func (l *Logger) Close() error {
	_ = l.Logger.Sync()
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Setup builds a logger that tees every entry to stdout and the all-levels
// file, and error entries to the failures file as well. A log file that
// cannot be opened is skipped and reported through the returned warnings;
// the logger itself is always usable.
func Setup(opts Options) (*Logger, []error, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	errorsOnly := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.ErrorLevel
	})

	var (
		cores    []zapcore.Core
		files    []*RotatingWriter
		warnings []error
	)

	if opts.Console {
		cores = append(cores, zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stdout), level))
	}

	if opts.Path != "" {
		w, err := OpenRotating(opts.Path, opts.MaxSize)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("open log file %s: %w", opts.Path, err))
		} else {
			files = append(files, w)
			cores = append(cores, zapcore.NewCore(newEncoder(), w, level))
		}
	}

	if opts.ErrorPath != "" {
		w, err := OpenRotating(opts.ErrorPath, opts.MaxSize)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("open error log file %s: %w", opts.ErrorPath, err))
		} else {
			files = append(files, w)
			cores = append(cores, zapcore.NewCore(newEncoder(), w, errorsOnly))
		}
	}

	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	for _, w := range warnings {
		logger.Warn("file logging degraded", zap.Error(w))
	}

	return &Logger{Logger: logger, files: files}, warnings, nil
}

func newEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " - "
	return zapcore.NewConsoleEncoder(cfg)
}
