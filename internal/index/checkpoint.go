package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"runhub/internal/api"
)

// Checkpoint is the durable per-adapter indexer state: the fingerprint map
// of the last successful pass and when it completed. Restoring a
// checkpoint lets a restarted engine diff incrementally instead of
// treating every document as new.
type Checkpoint struct {
	AdapterName  string                     `json:"adapter_name"`
	Fingerprints map[string]api.Fingerprint `json:"fingerprints"`
	LastPassAt   time.Time                  `json:"last_pass_at"`
}

// CheckpointStore persists checkpoints as one JSON file per adapter in a
// local directory.
type CheckpointStore struct {
	dir string
}

// NewCheckpointStore creates the store, making the directory if needed.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir %s: %w", dir, err)
	}
	return &CheckpointStore{dir: dir}, nil
}

func (s *CheckpointStore) pathFor(adapterName string) string {
	return filepath.Join(s.dir, adapterName+".json")
}

// Save writes the adapter's checkpoint atomically (write-then-rename).
func (s *CheckpointStore) Save(cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint for %s: %w", cp.AdapterName, err)
	}
	tmp := s.pathFor(cp.AdapterName) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint for %s: %w", cp.AdapterName, err)
	}
	return os.Rename(tmp, s.pathFor(cp.AdapterName))
}

// Load reads the adapter's checkpoint. A missing checkpoint returns ok
// false with no error.
func (s *CheckpointStore) Load(adapterName string) (Checkpoint, bool, error) {
	data, err := os.ReadFile(s.pathFor(adapterName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("reading checkpoint for %s: %w", adapterName, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		// A corrupt checkpoint falls back to a full re-enumeration rather
		// than blocking startup.
		return Checkpoint{}, false, nil
	}
	return cp, true, nil
}
