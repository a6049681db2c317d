package session

import (
	"context"
	"sync"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-memory session store for tests and single-process
// deployments. Entries expire lazily on read and via a background janitor.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := Opts{TTL: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	m := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     cfg.TTL,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, userID string) (*models.Session, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	m.mu.RLock()
	entry, ok := m.entries[userID]
	m.mu.RUnlock()
	if !ok || m.now().After(entry.expiresAt) {
		return nil, nil
	}
	return decodeSession(userID, entry.data)
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, s *models.Session) error {
	if s == nil || s.UserID == "" {
		return models.ErrEmptyUserID
	}
	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[s.UserID] = memoryEntry{data: data, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	m.mu.Lock()
	delete(m.entries, userID)
	m.mu.Unlock()
	return nil
}

// Close stops the janitor.
func (m *MemoryStore) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := m.now()
			m.mu.Lock()
			for id, entry := range m.entries {
				if now.After(entry.expiresAt) {
					delete(m.entries, id)
				}
			}
			m.mu.Unlock()
		}
	}
}
