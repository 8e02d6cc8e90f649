package loader

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/plugforge/internal/plugin"
)

// ExecutionLogName is the file name of the execution log inside the logs directory.
const ExecutionLogName = "plugin_executions.log"

// RecordSink receives one record per execution, in completion order.
type RecordSink interface {
	RecordExecution(ctx context.Context, rec plugin.ExecutionRecord) error
}

// ExecutionLog appends records as newline-delimited JSON.
type ExecutionLog struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewExecutionLog writes records to w.
func NewExecutionLog(w io.Writer) *ExecutionLog {
	return &ExecutionLog{enc: json.NewEncoder(w)}
}

// OpenExecutionLog opens <dir>/plugin_executions.log for appending,
// creating dir when needed.
func OpenExecutionLog(dir string) (*ExecutionLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, ExecutionLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open execution log: %w", err)
	}
	l := NewExecutionLog(f)
	l.closer = f
	return l, nil
}

// RecordExecution implements RecordSink.
func (l *ExecutionLog) RecordExecution(_ context.Context, rec plugin.ExecutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(rec); err != nil {
		return fmt.Errorf("append execution record: %w", err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (l *ExecutionLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ReadExecutionLog decodes every record in r. Blank lines are skipped.
func ReadExecutionLog(r io.Reader) ([]plugin.ExecutionRecord, error) {
	var records []plugin.ExecutionRecord
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec plugin.ExecutionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return records, fmt.Errorf("execution log line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
