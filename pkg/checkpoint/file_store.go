package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"go.uber.org/zap"
)

// FileStore keeps one <key>.json file per checkpoint in a directory.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to create checkpoint directory")
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With(zap.String("component", "checkpoint_store"), zap.String("store", "file")),
	}, nil
}

// Path returns the file backing key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Load reads the checkpoint under key.
func (s *FileStore) Load(_ context.Context, key string) (*Checkpoint, error) {
	if err := ValidateKey(key); err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "load")
	}

	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to read checkpoint")
	}

	cp, err := Decode(data)
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "corrupt checkpoint").
			WithDetail("path", s.Path(key))
	}
	return cp, nil
}

// Save writes the checkpoint under key atomically.
func (s *FileStore) Save(_ context.Context, key string, cp *Checkpoint) error {
	if err := ValidateKey(key); err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "save")
	}

	data, err := Encode(cp)
	if err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to encode checkpoint")
	}
	if err := WriteAtomic(s.Path(key), data); err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to write checkpoint")
	}

	s.logger.Debug("checkpoint saved", zap.String("key", key), zap.String("path", s.Path(key)))
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

// WriteAtomic writes data to a file atomically using write-then-rename.
// The temporary file lives in the same directory so the rename never crosses
// file systems.
func WriteAtomic(filePath string, data []byte) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	// Sync to disk to ensure data is persisted
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file to %s: %w", filePath, err)
	}

	// Persist the rename itself
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}

	return nil
}
