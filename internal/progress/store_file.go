package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps every key of one deployment in a single JSON document,
// rewritten atomically (temp file, fsync, rename) on each save.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Checkpoint
}

func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("progress: file store needs a path")
	}
	s := &FileStore{path: path, data: make(map[string]Checkpoint)}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("progress: corrupt checkpoint file %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *FileStore) Load(_ context.Context, key string) (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.data[key]
	return cp, ok, nil
}

func (s *FileStore) Save(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[cp.Key]
	s.data[cp.Key] = cp
	if err := s.writeLocked(); err != nil {
		if had {
			s.data[cp.Key] = prev
		} else {
			delete(s.data, cp.Key)
		}
		return err
	}
	return nil
}

func (s *FileStore) writeLocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
