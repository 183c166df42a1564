package call

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Log is the append-only call log: one JSON record per line, one line per
// persisted mutation of a Record. It is both the audit trail and the
// crash-recovery source.
type Log struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	logger *zap.Logger
}

// OpenLog opens (creating if needed) the JSONL log at path.
func OpenLog(path string, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}
	return &Log{path: path, f: f, logger: logger}, nil
}

// Append writes one snapshot of rec to the log.
func (l *Log) Append(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("append call record: %w", err)
	}
	return nil
}

// Replay reads the whole log and returns the latest snapshot of every call,
// in order of first appearance. Unparseable lines are skipped with a warning;
// later lines for the same call id supersede earlier ones.
func (l *Log) Replay() ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open call log for replay: %w", err)
	}
	defer f.Close()

	latest := make(map[string]*Record)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
			l.logger.Warn("skipping unparseable call log line", zap.Int("line", line))
			continue
		}
		if _, seen := latest[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		latest[rec.ID] = &rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan call log: %w", err)
	}

	records := make([]*Record, 0, len(order))
	for _, id := range order {
		records = append(records, latest[id])
	}
	return records, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
