package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/unicro/uniscout/internal/auth"
	"github.com/unicro/uniscout/internal/config"
)

// FileName is the audit log file inside the configured directory.
const FileName = "audit.jsonl"

// Entry is a single audit record.
type Entry struct {
	Timestamp     time.Time `json:"ts"`
	User          string    `json:"user"`
	Action        string    `json:"action"`
	Scope         string    `json:"scope,omitempty"`
	Outcome       string    `json:"outcome"`
	Code          string    `json:"code"`
	LatencyMS     int64     `json:"latencyMs"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Logger writes audit entries. A nil *Logger discards everything.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      *lumberjack.Logger
	w        io.Writer
}

// NewLogger opens the audit log in cfg.Dir.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	filePath := filepath.Join(cfg.Dir, FileName)
	out := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	return &Logger{
		filePath: filePath,
		out:      out,
		w:        out,
	}, nil
}

// NewWriterLogger writes entries to w. Rotate and Close are no-ops.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{w: w}
}

// LogAction records one lifecycle command.
func (l *Logger) LogAction(ctx context.Context, action, scope, result string, latency time.Duration) {
	if l == nil {
		return
	}

	l.write(Entry{
		Timestamp:     time.Now().UTC(),
		User:          userFromContext(ctx),
		Action:        action,
		Scope:         scope,
		Outcome:       outcomeOf(result),
		Code:          result,
		LatencyMS:     latency.Milliseconds(),
		CorrelationID: CorrelationID(ctx),
	})
}

func (l *Logger) write(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: marshal entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return
	}
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "audit: write entry: %v\n", err)
	}
}

func userFromContext(ctx context.Context) string {
	if claims, ok := auth.ClaimsFromContext(ctx); ok && claims.Subject != "" {
		return claims.Subject
	}
	return "unknown"
}

// outcomeOf groups result codes.
func outcomeOf(result string) string {
	switch result {
	case "SUCCESS", "PARTIAL", "NOOP":
		return "ok"
	case "ALREADY_RUNNING", "BAD_REQUEST", "UNAUTHORIZED", "FORBIDDEN":
		return "rejected"
	default:
		return "error"
	}
}

// Rotate starts a new file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	if l == nil || l.out == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Rotate()
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w = nil
	if l.out != nil {
		return l.out.Close()
	}
	return nil
}

// FilePath returns the active audit file path, empty for writer loggers.
func (l *Logger) FilePath() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

type correlationKey struct{}

// WithCorrelationID attaches a request correlation id recorded with audit entries.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
