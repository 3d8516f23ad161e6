package storage

import (
	"os"
	"path/filepath"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// JSONStore persists a single document to disk as MongoDB extended JSON, so
// bson tags and types (ObjectID, dates) survive a restart.
type JSONStore struct {
	mu       sync.RWMutex
	filePath string
}

// NewJSONStore creates a new JSON store at the specified path
func NewJSONStore(dataDir, filename string) (*JSONStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	return &JSONStore{
		filePath: filepath.Join(dataDir, filename),
	}, nil
}

// Load decodes the file into data. A missing file leaves data untouched.
func (s *JSONStore) Load(data interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	return bson.UnmarshalExtJSON(raw, true, data)
}

// Save writes data to the file via a temp file and rename.
func (s *JSONStore) Save(data interface{}) error {
	raw, err := bson.MarshalExtJSON(data, true, false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, raw, 0o644); err != nil {
		os.Remove(tempFile)
		return err
	}

	return os.Rename(tempFile, s.filePath)
}
