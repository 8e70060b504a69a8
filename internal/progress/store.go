package progress

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Checkpoint is the persisted form: the last acknowledged offset for a key.
type Checkpoint struct {
	Key       string    `json:"key"`
	Offset    int64     `json:"last_acked_offset"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists checkpoints. Save must be durable when it returns.
type Store interface {
	Load(ctx context.Context, key string) (Checkpoint, bool, error)
	Save(ctx context.Context, cp Checkpoint) error
	Close() error
}

type StoreConfig struct {
	Kind  string `koanf:"store"` // file|postgres|memory
	Path  string `koanf:"path"`
	DSN   string `koanf:"dsn"`
	Table string `koanf:"table"`
}

func OpenStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Kind {
	case "", "file":
		return OpenFileStore(cfg.Path)
	case "postgres":
		return OpenPostgresStore(ctx, cfg.DSN, cfg.Table)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("progress: unknown checkpoint store %q", cfg.Kind)
	}
}

// MemoryStore keeps checkpoints in process; used for dry runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]Checkpoint
	saves []int64
	// FailWith, when set, is returned by the next Save.
	FailWith error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Checkpoint)}
}

func (m *MemoryStore) Load(_ context.Context, key string) (Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.data[key]
	return cp, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailWith; err != nil {
		m.FailWith = nil
		return err
	}
	m.data[cp.Key] = cp
	m.saves = append(m.saves, cp.Offset)
	return nil
}

// Saves lists every persisted offset in write order.
func (m *MemoryStore) Saves() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.saves...)
}

func (m *MemoryStore) Close() error { return nil }
