package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventIngestStart    AuditEventType = "ingest.start"
	AuditEventIngestComplete AuditEventType = "ingest.complete"
	AuditEventIngestError    AuditEventType = "ingest.error"
	AuditEventFileProcessed  AuditEventType = "file.processed"
	AuditEventFileSkipped    AuditEventType = "file.skipped"
	AuditEventFileDeleted    AuditEventType = "file.deleted"
	AuditEventQuery          AuditEventType = "query"
	AuditEventAnswer         AuditEventType = "answer"
)

// AuditEvent is a single audit log entry. Events are written as JSON lines,
// one record per line, so the trail can be grepped and replayed.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	SessionID   string         `json:"session_id"`
	Success     bool           `json:"success"`
	Duration    time.Duration  `json:"duration_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// AuditLogger writes the ingestion and query audit trail.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		enabled:   config.Enabled,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogIngestStart logs the start of an ingestion run.
func (l *AuditLogger) LogIngestStart(corpusDir string, scanned int) {
	l.Log(&AuditEvent{
		EventType: AuditEventIngestStart,
		Success:   true,
		Message:   fmt.Sprintf("Ingestion started over %s", corpusDir),
		Details: map[string]any{
			"corpus_dir": corpusDir,
			"scanned":    scanned,
		},
	})
}

// LogIngestComplete logs the end of an ingestion run.
func (l *AuditLogger) LogIngestComplete(duration time.Duration, processed, skipped, deleted, indexed int) {
	l.Log(&AuditEvent{
		EventType: AuditEventIngestComplete,
		Success:   skipped == 0,
		Duration:  duration,
		Message:   fmt.Sprintf("Ingestion completed: %d processed, %d deleted", processed, deleted),
		Details: map[string]any{
			"processed":      processed,
			"skipped":        skipped,
			"deleted":        deleted,
			"indexed_chunks": indexed,
		},
	})
}

// LogIngestError logs a failed ingestion run.
func (l *AuditLogger) LogIngestError(err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventIngestError,
		Success:     false,
		Message:     "Ingestion failed",
		ErrorDetail: err.Error(),
	})
}

// LogFileProcessed logs one successfully indexed file.
func (l *AuditLogger) LogFileProcessed(path, docID string) {
	l.Log(&AuditEvent{
		EventType: AuditEventFileProcessed,
		Success:   true,
		Message:   fmt.Sprintf("Processed %s", path),
		Details: map[string]any{
			"path":   path,
			"doc_id": docID,
		},
	})
}

// LogFileSkipped logs a file left out of the run.
func (l *AuditLogger) LogFileSkipped(path string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventFileSkipped,
		Success:     false,
		Message:     fmt.Sprintf("Skipped %s", path),
		ErrorDetail: err.Error(),
		Details: map[string]any{
			"path": path,
		},
	})
}

// LogFileDeleted logs removal of a stale document from the index.
func (l *AuditLogger) LogFileDeleted(path, docID string) {
	l.Log(&AuditEvent{
		EventType: AuditEventFileDeleted,
		Success:   true,
		Message:   fmt.Sprintf("Deleted vectors for %s", path),
		Details: map[string]any{
			"path":   path,
			"doc_id": docID,
		},
	})
}

// LogQuery logs one retrieval query.
func (l *AuditLogger) LogQuery(model, query string, results int, reranked bool, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventQuery,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Query returned %d results", results),
		Details: map[string]any{
			"model":    model,
			"query":    query,
			"results":  results,
			"reranked": reranked,
		},
	})
}

// LogAnswer logs one grounded answer generation.
func (l *AuditLogger) LogAnswer(model, question string, passages, outputTokens int, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventAnswer,
		Success:   true,
		Duration:  duration,
		Message:   "Answer generated",
		Details: map[string]any{
			"model":         model,
			"question":      question,
			"passages":      passages,
			"output_tokens": outputTokens,
		},
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// Global audit logger instance
var globalAuditLogger *AuditLogger
var auditOnce sync.Once

// InitGlobalAuditLogger initializes the global audit logger.
func InitGlobalAuditLogger(config *AuditConfig) error {
	var err error
	auditOnce.Do(func() {
		globalAuditLogger, err = NewAuditLogger(config)
	})
	return err
}

// Audit returns the global audit logger. Before initialization it returns a
// disabled logger, so callers never need a nil check.
func Audit() *AuditLogger {
	if globalAuditLogger == nil {
		return &AuditLogger{enabled: false}
	}
	return globalAuditLogger
}
