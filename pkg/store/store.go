// Package store persists the in-progress settlement record of an account so a restarted
// settler can resume bridging.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/speedrun-hq/offramp-settler/pkg/models"
)

// Store keeps at most one settlement record per account.
// Get returns nil and no error when the account has no record.
type Store interface {
	Get(ctx context.Context, account string) (*models.SettlementRecord, error)
	Save(ctx context.Context, record models.SettlementRecord) error
	Clear(ctx context.Context, account string) error
}

// Backend names accepted by RECORD_STORE
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Accounts are compared case-insensitively since they come from both checksummed and lowercase sources
func key(account string) string {
	return strings.ToLower(account)
}

func validate(record models.SettlementRecord) error {
	if record.Account == "" {
		return errors.New("settlement record has no account")
	}
	if record.IntentHash == "" {
		return errors.New("settlement record has no intent hash")
	}
	return nil
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]models.SettlementRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]models.SettlementRecord),
	}
}

func (m *MemoryStore) Get(_ context.Context, account string) (*models.SettlementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key(account)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, record models.SettlementRecord) error {
	if err := validate(record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key(record.Account)] = record
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key(account))
	return nil
}

// FileStore persists records to a JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]models.SettlementRecord
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is empty")
	}
	fs := &FileStore{
		path: path,
		data: make(map[string]models.SettlementRecord),
	}
	if err := fs.load(); err != nil {
		return nil, fmt.Errorf("failed to load records from %s: %w", path, err)
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	// write then rename so a crash never leaves a truncated file
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, account string) (*models.SettlementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.data[key(account)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *FileStore) Save(_ context.Context, record models.SettlementRecord) error {
	if err := validate(record); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key(record.Account)] = record
	return f.persist()
}

func (f *FileStore) Clear(_ context.Context, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key(account)]; !ok {
		return nil
	}
	delete(f.data, key(account))
	return f.persist()
}
