package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"

	"github.com/Ramsey-B/lily/pkg/models"
)

// FileStore keeps the checkpoint as a JSON file. Writes go to a temp file in the
// same directory and are renamed into place.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (*models.SyncCheckpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read checkpoint %s", s.path)
	}
	return decode(data), nil
}

func (s *FileStore) Save(_ context.Context, cp *models.SyncCheckpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create checkpoint directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create checkpoint temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return pkgerrors.Wrap(err, "failed to write checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrap(err, "failed to write checkpoint")
	}
	return pkgerrors.Wrap(os.Rename(tmp.Name(), s.path), "failed to replace checkpoint")
}

func (s *FileStore) Delete(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return pkgerrors.Wrapf(err, "failed to delete checkpoint %s", s.path)
	}
	return nil
}
