package settlement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/binex/internal/domain"
)

// MemoryStore es un IntentStore en memoria (dry-run y tests).
type MemoryStore struct {
	mu      sync.Mutex
	intents map[string]domain.SettlementIntent
}

// NewMemoryStore crea un store vacío.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]domain.SettlementIntent)}
}

// SaveIntent implementa ports.IntentStore.
func (s *MemoryStore) SaveIntent(_ context.Context, in domain.SettlementIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[in.ID] = in
	return nil
}

// PendingIntents implementa ports.IntentStore.
func (s *MemoryStore) PendingIntents(_ context.Context, olderThan time.Time, limit int) ([]domain.SettlementIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SettlementIntent
	for _, in := range s.intents {
		if in.Status == domain.IntentPending && !in.UpdatedAt.After(olderThan) {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get devuelve un intent por ID.
func (s *MemoryStore) Get(id string) (domain.SettlementIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	return in, ok
}
