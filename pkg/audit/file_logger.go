package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileLogger appends audit events to a file as JSON lines, rotating by size
type FileLogger struct {
	path     string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	Path     string
	MaxSize  int64 // bytes before rotation; 0 uses 100MB
	MaxFiles int   // rotated files kept; 0 uses 10
}

// NewFileLogger opens (or creates) the audit file, rotating it first if it is already full
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("audit file path is required")
	}

	l := &FileLogger{
		path:     config.Path,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}
	if l.maxSize <= 0 {
		l.maxSize = 100 * 1024 * 1024
	}
	if l.maxFiles <= 0 {
		l.maxFiles = 10
	}

	if info, err := os.Stat(l.path); err == nil && info.Size() >= l.maxSize {
		if err := l.rotate(); err != nil {
			return nil, err
		}
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", l.path, err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// rotate renames the current file to <name>-<timestamp><ext> and prunes old ones
func (l *FileLogger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	ext := filepath.Ext(l.path)
	stem := strings.TrimSuffix(l.path, ext)
	rotated := fmt.Sprintf("%s-%s%s", stem, time.Now().UTC().Format("20060102T150405.000000000"), ext)
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("failed to rotate audit file: %w", err)
	}

	old, err := filepath.Glob(stem + "-*" + ext)
	if err != nil {
		return fmt.Errorf("failed to list rotated audit files: %w", err)
	}
	// timestamped names sort oldest first
	sort.Strings(old)
	for len(old) > l.maxFiles {
		if err := os.Remove(old[0]); err != nil {
			return fmt.Errorf("failed to remove rotated audit file: %w", err)
		}
		old = old[1:]
	}
	return nil
}

// Log appends the event, rotating once the file reaches the size limit
func (l *FileLogger) Log(ctx context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit file %s is closed", l.path)
	}

	if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
		if err := l.rotate(); err != nil {
			return err
		}
		if err := l.open(); err != nil {
			return err
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close closes the current file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
