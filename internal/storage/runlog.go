package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"positionScope/internal/model"
)

// RunRecord is one line of the run log.
type RunRecord struct {
	RunID    string         `json:"run_id"`
	LoggedAt time.Time      `json:"logged_at"`
	Position model.Position `json:"position"`
}

// RunLog appends committed positions to a JSONL file.
type RunLog struct {
	path string
	mu   sync.Mutex
}

func NewRunLog(path string) *RunLog {
	return &RunLog{path: path}
}

// Append writes one line per position.
func (l *RunLog) Append(runID string, positions []model.Position) error {
	if l == nil || l.path == "" || len(positions) == 0 {
		return nil
	}

	dir := filepath.Dir(l.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create run log dir: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer file.Close()

	now := time.Now().UTC()
	writer := bufio.NewWriter(file)
	for _, pos := range positions {
		line, err := json.Marshal(RunRecord{RunID: runID, LoggedAt: now, Position: pos})
		if err != nil {
			return fmt.Errorf("marshal run record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write run record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush run log: %w", err)
	}
	return nil
}
