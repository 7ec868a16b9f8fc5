package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"fablepress/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	projects map[string]domain.Project
	units    map[string]map[int]domain.Unit // projectID -> seq -> unit
	orders   map[string]domain.Order
	orderSeq []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]domain.Project),
		units:    make(map[string]map[int]domain.Unit),
		orders:   make(map[string]domain.Order),
	}
}

func (m *MemoryStore) SaveProject(p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	return nil
}

func (m *MemoryStore) GetProject(id string) (domain.Project, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

func (m *MemoryStore) ListProjectsByOwner(ownerID string) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.Project
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) SetProjectStatus(id string, status domain.ProjectStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return fmt.Errorf("project %s not found", id)
	}
	p.Status = status
	p.ErrorMessage = errMsg
	p.UpdatedAt = time.Now().UTC()
	m.projects[id] = p
	return nil
}

func (m *MemoryStore) SetProjectProgress(id string, completed, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return fmt.Errorf("project %s not found", id)
	}
	p.CompletedUnits = completed
	p.TotalUnits = total
	p.UpdatedAt = time.Now().UTC()
	m.projects[id] = p
	return nil
}

func (m *MemoryStore) SetProjectArtifacts(id string, a ProjectArtifacts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return fmt.Errorf("project %s not found", id)
	}
	p.InteriorKey = a.InteriorKey
	p.CoverKey = a.CoverKey
	p.ReconciledPageCount = a.ReconciledPageCount
	p.PagePadded = a.PagePadded
	p.PageFallback = a.PageFallback
	p.UpdatedAt = time.Now().UTC()
	m.projects[id] = p
	return nil
}

func (m *MemoryStore) DeleteProject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	delete(m.units, id)
	return nil
}

func (m *MemoryStore) UpsertUnit(u domain.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySeq, ok := m.units[u.ProjectID]
	if !ok {
		bySeq = make(map[int]domain.Unit)
		m.units[u.ProjectID] = bySeq
	}
	if existing, ok := bySeq[u.Seq]; ok {
		u.ID = existing.ID
		u.CreatedAt = existing.CreatedAt
	}
	bySeq[u.Seq] = u
	return nil
}

func (m *MemoryStore) GetUnit(projectID string, seq int) (domain.Unit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[projectID][seq]
	return u, ok, nil
}

func (m *MemoryStore) ListUnits(projectID string) ([]domain.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySeq := m.units[projectID]
	res := make([]domain.Unit, 0, len(bySeq))
	for _, u := range bySeq {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

func (m *MemoryStore) CompleteFanOutUnit(projectID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return 0, 0, fmt.Errorf("project %s not found", projectID)
	}
	// A retried child may complete twice; the counter never passes total.
	if p.CompletedUnits < p.TotalUnits {
		p.CompletedUnits++
	}
	p.UpdatedAt = time.Now().UTC()
	m.projects[projectID] = p
	return p.CompletedUnits, p.TotalUnits, nil
}

func (m *MemoryStore) CreateOrder(o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	m.orders[o.ID] = o
	m.orderSeq = append(m.orderSeq, o.ID)
	return nil
}

func (m *MemoryStore) GetOrder(id string) (domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok, nil
}

func (m *MemoryStore) ListOrdersByProject(projectID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.Order
	for i := len(m.orderSeq) - 1; i >= 0; i-- {
		if o, ok := m.orders[m.orderSeq[i]]; ok && o.ProjectID == projectID {
			res = append(res, o)
		}
	}
	return res, nil
}

func (m *MemoryStore) SetOrderSession(id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s not found", id)
	}
	o.PaymentSessionID = sessionID
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return nil
}

func (m *MemoryStore) SetOrderFailed(id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s not found", id)
	}
	o.Status = domain.OrderFailed
	o.ErrorMessage = errMsg
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return nil
}

func (m *MemoryStore) WithPendingOrder(id string, fn func(*domain.Order) error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != domain.OrderPending {
		return false, nil
	}
	if err := fn(&o); err != nil {
		return true, err
	}
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return true, nil
}
