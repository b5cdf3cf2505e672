package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint is the last fully indexed block for one factory.
type Checkpoint struct {
	Factory            string    `json:"factory"`
	LastProcessedBlock uint64    `json:"last_processed_block"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CheckpointStore persists a Checkpoint as a JSON file. An empty path
// disables it.
type CheckpointStore struct {
	path string
	now  func() time.Time
}

func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path, now: time.Now}
}

// Load returns the last processed block for factory. A checkpoint written
// for another factory is ignored.
func (c *CheckpointStore) Load(factory string) (uint64, bool, error) {
	if c == nil || c.path == "" {
		return 0, false, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.Factory != factory {
		return 0, false, nil
	}
	return cp.LastProcessedBlock, true, nil
}

func (c *CheckpointStore) Save(factory string, lastProcessed uint64) error {
	if c == nil || c.path == "" {
		return nil
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := json.Marshal(Checkpoint{
		Factory:            factory,
		LastProcessedBlock: lastProcessed,
		UpdatedAt:          c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
