package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// MemoryGateway serves stock levels from memory. Used for local runs
// without Square credentials and in tests.
type MemoryGateway struct {
	mu     sync.RWMutex
	stocks map[string]int
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{stocks: make(map[string]int)}
}

// SetStock sets the stock level for an item
func (m *MemoryGateway) SetStock(id string, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks[id] = quantity
}

// QueryStock returns stock for the known ids; unknown ids are omitted.
func (m *MemoryGateway) QueryStock(_ context.Context, ids []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]int, len(ids))
	for _, id := range ids {
		if q, ok := m.stocks[id]; ok {
			result[id] = q
		}
	}
	return result, nil
}

// ParseSeed reads "id=qty,id=qty" into a stock map.
func ParseSeed(seed string) (map[string]int, error) {
	stocks := make(map[string]int)
	for _, pair := range strings.Split(seed, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, qty, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("invalid stock seed entry %q", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid stock quantity in %q", pair)
		}
		stocks[strings.TrimSpace(id)] = n
	}
	return stocks, nil
}
