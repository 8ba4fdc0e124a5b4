package store

import (
	"context"
	"sync"
	"time"

	"github.com/tadeleke/corebank/internal/domain"
)

// MemoryTokens is the in-process counterpart of RedisTokens.
type MemoryTokens struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
}

type memoryToken struct {
	value   string
	expires time.Time
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{tokens: make(map[string]memoryToken)}
}

func (m *MemoryTokens) SaveRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = memoryToken{value: token, expires: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryTokens) RefreshToken(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[userID]
	if !ok || time.Now().After(tok.expires) {
		return "", domain.ErrUserNotFound
	}
	return tok.value, nil
}

func (m *MemoryTokens) DeleteRefreshToken(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, userID)
	return nil
}
