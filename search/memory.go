package search

import (
	"context"
	"sync"
)

// MemoryIndex keeps documents in a map. It backs local runs and tests; Fail
// lets a test make the next calls for a settlement fail.
type MemoryIndex struct {
	mu       sync.Mutex
	docs     map[uint]SettlementDocument
	failures map[uint]error
	down     error
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		docs:     make(map[uint]SettlementDocument),
		failures: make(map[uint]error),
	}
}

func (m *MemoryIndex) Enabled() bool { return true }

func (m *MemoryIndex) Upsert(_ context.Context, doc SettlementDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return m.down
	}
	if err := m.failures[doc.SettlementID]; err != nil {
		return err
	}
	m.docs[doc.SettlementID] = doc
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, settlementID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return m.down
	}
	if err := m.failures[settlementID]; err != nil {
		return err
	}
	delete(m.docs, settlementID)
	return nil
}

func (m *MemoryIndex) BulkUpsert(_ context.Context, docs []SettlementDocument) (map[uint]error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return nil, m.down
	}
	failed := make(map[uint]error)
	for _, doc := range docs {
		if err := m.failures[doc.SettlementID]; err != nil {
			failed[doc.SettlementID] = err
			continue
		}
		m.docs[doc.SettlementID] = doc
	}
	return failed, nil
}

// Fail makes every write for settlementID return err until Recover is called.
func (m *MemoryIndex) Fail(settlementID uint, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[settlementID] = err
}

func (m *MemoryIndex) Recover(settlementID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, settlementID)
}

// SetDown makes the whole backend unavailable (nil brings it back).
func (m *MemoryIndex) SetDown(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = err
}

func (m *MemoryIndex) Get(settlementID uint) (SettlementDocument, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[settlementID]
	return doc, ok
}

func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}
