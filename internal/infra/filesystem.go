// Package infra implements infrastructure concerns (transport, catalog,
// worker subprocess, filesystem, process, session storage).
package infra

import (
	"os"

	"github.com/apkdrop/apkdrop/internal/domain"
)

// FileSystemManagerImpl implements domain.FileSystemManager.
type FileSystemManagerImpl struct{}

// NewFileSystemManager creates a new filesystem manager.
func NewFileSystemManager() domain.FileSystemManager {
	return &FileSystemManagerImpl{}
}

// Exists checks if a path exists.
func (fm *FileSystemManagerImpl) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Delete removes a file.
func (fm *FileSystemManagerImpl) Delete(path string) error {
	return os.Remove(path)
}

// Read returns the file contents.
func (fm *FileSystemManagerImpl) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Size returns the size of a file in bytes.
func (fm *FileSystemManagerImpl) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// EnsureDir creates a directory (and parents) if absent.
func (fm *FileSystemManagerImpl) EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
