package payments

import (
	"context"
	"sync"
)

// MemStore is the reference Store used by tests and by deployments
// without a database. It enforces the same single-pending and
// compare-and-swap guarantees as the MySQL Repo.
type MemStore struct {
	mu       sync.RWMutex
	payments map[string]*Payment
}

func NewMemStore() *MemStore {
	return &MemStore{payments: make(map[string]*Payment)}
}

func (s *MemStore) FindAll(_ context.Context, f Filter) ([]Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Payment
	for _, p := range s.payments {
		if match(p, f) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemStore) FindOne(_ context.Context, f Filter) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if match(p, f) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) Save(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.payments[p.ID]; ok && cur.Status != p.Status {
		// Status moves through SetStatus only; a stale snapshot must
		// not undo a concurrent transition.
		return ErrStatusConflict
	}

	if p.Status == StatusPending {
		for id, other := range s.payments {
			if id != p.ID && other.Creator == p.Creator && other.Status == StatusPending {
				return ErrDuplicatePending
			}
		}
	}

	p.SyncPendingKey()
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *MemStore) SetStatus(_ context.Context, id string, from []Status, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return ErrNotFound
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			p.SyncPendingKey()
			return nil
		}
	}
	return ErrStatusConflict
}

func match(p *Payment, f Filter) bool {
	if f.ID != "" && p.ID != f.ID {
		return false
	}
	if f.Creator != "" && p.Creator != f.Creator {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}
