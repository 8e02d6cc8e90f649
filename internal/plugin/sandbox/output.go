package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/plugforge/internal/plugin/security"
)

// OutputLogName is the diagnostic log file name inside the logs directory.
const OutputLogName = "sandbox.log"

// OutputLog is the append-only diagnostic log shared by all runs. Each
// line reads "<RFC3339 timestamp> [<plugin id>] <message>".
type OutputLog struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
}

// NewOutputLog writes diagnostic lines to w.
func NewOutputLog(w io.Writer) *OutputLog {
	return &OutputLog{w: w, now: time.Now}
}

// OpenOutputLog opens (or creates) <dir>/sandbox.log for appending.
func OpenOutputLog(dir string) (*OutputLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, OutputLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output log: %w", err)
	}
	l := NewOutputLog(f)
	l.closer = f
	return l, nil
}

// WriteLine appends one line. Embedded newlines are escaped so one call
// is always one line.
func (l *OutputLog) WriteLine(pluginID, msg string) error {
	msg = strings.ReplaceAll(strings.TrimRight(msg, "\n"), "\n", `\n`)
	line := fmt.Sprintf("%s [%s] %s\n", l.now().UTC().Format(time.RFC3339), pluginID, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.w, line)
	return err
}

// Close closes the underlying file, if the log owns one.
func (l *OutputLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// runOutput is the output writer of one run. Every Write is one line.
// Once the run's output budget is spent further writes fail.
type runOutput struct {
	log      *OutputLog
	pluginID string
	monitor  *security.ResourceMonitor
	limited  atomic.Bool

	mu    sync.Mutex
	lines []string
}

func (o *runOutput) Write(p []byte) (int, error) {
	if o.limited.Load() {
		return 0, ErrOutputLimit
	}
	if o.monitor.AddOutput(int64(len(p))) {
		o.limited.Store(true)
		_ = o.log.WriteLine(o.pluginID, "output limit reached, further output dropped")
		return 0, ErrOutputLimit
	}

	line := strings.TrimRight(string(p), "\n")
	o.mu.Lock()
	o.lines = append(o.lines, line)
	o.mu.Unlock()

	if err := o.log.WriteLine(o.pluginID, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (o *runOutput) Lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.lines...)
}
