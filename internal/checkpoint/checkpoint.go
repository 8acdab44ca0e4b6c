// Package checkpoint persists streaming-read progress at a local checkpoint
// location so a direct (group-less) read can resume where it left off.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Checkpoint records the next offset to read per partition of one topic.
type Checkpoint struct {
	Topic      string          `json:"topic"`
	Partitions map[int32]int64 `json:"partitions"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Store reads and writes a checkpoint file. Writes are atomic: a temp file in
// the same directory is renamed over the target.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store for the given checkpoint location.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("checkpoint location is required")
	}
	return &Store{path: path}, nil
}

// Load reads the checkpoint. A missing file returns (nil, nil): the caller
// falls back to its configured starting position. A corrupt file is an error,
// not a silent restart from scratch.
func (s *Store) Load() (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", s.path, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint %s: %w", s.path, err)
	}
	if cp.Partitions == nil {
		cp.Partitions = make(map[int32]int64)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically, creating parent directories as
// needed.
func (s *Store) Save(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint %s: %w", s.path, err)
	}
	return nil
}

// Advance records that offset has been consumed on partition; the stored
// value is the next offset to read. Only forward movement is kept.
func (cp *Checkpoint) Advance(partition int32, offset int64) {
	if cp.Partitions == nil {
		cp.Partitions = make(map[int32]int64)
	}
	next := offset + 1
	if cur, ok := cp.Partitions[partition]; !ok || next > cur {
		cp.Partitions[partition] = next
	}
}
