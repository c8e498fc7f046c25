package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StateFileName is the snapshot file written under each pipeline directory
const StateFileName = "state.json"

// FileStore writes snapshots to {root}/{pipeline}/state.json
type FileStore struct {
	root string
}

// NewFileStore creates a file store rooted at the workspace directory
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Path returns the snapshot file for pipeline
func (fs *FileStore) Path(pipeline string) string {
	return filepath.Join(fs.root, pipeline, StateFileName)
}

// Save writes the snapshot atomically so readers never see a partial file
func (fs *FileStore) Save(snapshot ExecutionState) error {
	stateFile := fs.Path(snapshot.PipelineName)
	if err := os.MkdirAll(filepath.Dir(stateFile), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempFile, stateFile); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// Load reads the latest snapshot for pipeline
func (fs *FileStore) Load(pipeline string) (*ExecutionState, error) {
	return ReadFile(fs.Path(pipeline))
}

// ReadFile parses a snapshot file written by FileStore
func ReadFile(path string) (*ExecutionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snapshot ExecutionState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &snapshot, nil
}
