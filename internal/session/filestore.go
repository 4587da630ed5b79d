package session

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
)

var _ Persistence = (*FileStore)(nil)

// FileStore persists the session as a small JSON file. Writes go through a
// temp file and rename so a crash mid-write cannot leave a truncated slot.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path. The parent directory is
// created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted session. An absent file means an empty slot.
func (f *FileStore) Load() (*Session, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read session file")
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decode session file")
	}
	return &s, nil
}

// Save writes the session atomically with owner-only permissions.
func (f *FileStore) Save(s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return errors.Wrap(err, "create session dir")
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write session file")
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrap(err, "replace session file")
	}
	return nil
}

// Clear removes the slot. A missing file is not an error.
func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove session file")
	}
	return nil
}
