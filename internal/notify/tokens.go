package notify

import (
	"context"
	"sort"
	"sync"
)

// MemoryTokens is a process-local TokenRegistry used when Redis is not
// configured.
type MemoryTokens struct {
	mu     sync.Mutex
	tokens map[string]map[string]struct{}
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{tokens: make(map[string]map[string]struct{})}
}

func (m *MemoryTokens) AddToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.tokens[userID]
	if !ok {
		set = make(map[string]struct{})
		m.tokens[userID] = set
	}
	set[token] = struct{}{}
	return nil
}

func (m *MemoryTokens) Tokens(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tokens[userID]))
	for t := range m.tokens[userID] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}
