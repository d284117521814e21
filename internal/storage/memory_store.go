package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/bl4ck0w1/muninn/pkg/models"
)

// MemoryStore is a ScanStore that never touches disk.
type MemoryStore struct {
	mu    sync.RWMutex
	scans map[string]*models.ScanResult
	saves map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scans: make(map[string]*models.ScanResult),
		saves: make(map[string]int),
	}
}

func (m *MemoryStore) Create(_ context.Context, scan *models.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[scan.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, scan.ID)
	}
	m.scans[scan.ID] = scan
	return nil
}

func (m *MemoryStore) Save(_ context.Context, scan *models.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[scan.ID] = scan
	m.saves[scan.ID]++
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.ScanResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scan, ok := m.scans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return scan, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*models.ScanResult, error) {
	m.mu.RLock()
	scans := make([]*models.ScanResult, 0, len(m.scans))
	for _, s := range m.scans {
		scans = append(scans, s)
	}
	m.mu.RUnlock()

	sortByRecency(scans)
	return applyLimit(scans, limit), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.scans[id]
	delete(m.scans, id)
	delete(m.saves, id)
	return ok, nil
}

// Saves reports how many times Save was called for id.
func (m *MemoryStore) Saves(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[id]
}
