package infra

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/apkdrop/apkdrop/internal/domain"
)

// FileRunRegistry implements domain.RunRegistry using a JSON file, so the
// status command can find the running bot process.
type FileRunRegistry struct {
	path string
}

// NewFileRunRegistry creates a run registry at the given path.
func NewFileRunRegistry(path string) domain.RunRegistry {
	return &FileRunRegistry{path: path}
}

// Register saves the running process info.
func (r *FileRunRegistry) Register(info domain.RunInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run info: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run registry: %w", err)
	}
	return nil
}

// Load reads the run info; a missing file returns nil without error.
func (r *FileRunRegistry) Load() (*domain.RunInfo, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run registry: %w", err)
	}
	var info domain.RunInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse run registry: %w", err)
	}
	return &info, nil
}

// Clear removes the registry file.
func (r *FileRunRegistry) Clear() error {
	err := os.Remove(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
