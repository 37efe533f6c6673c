package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore provides an in-memory Store, used for tests and demos.
type MemoryStore struct {
	mu       sync.RWMutex
	expenses []Expense
	budgets  []Budget
	income   []Income
	fuel     []FuelPurchase
	trips    []Trip
	profiles map[string]Profile
	vehicles []Vehicle
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

func (s *MemoryStore) AddExpenses(items ...Expense) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expenses = append(s.expenses, items...)
}

func (s *MemoryStore) AddBudgets(items ...Budget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets = append(s.budgets, items...)
}

func (s *MemoryStore) AddIncome(items ...Income) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.income = append(s.income, items...)
}

func (s *MemoryStore) AddFuel(items ...FuelPurchase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fuel = append(s.fuel, items...)
}

func (s *MemoryStore) AddTrips(items ...Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips = append(s.trips, items...)
}

func (s *MemoryStore) AddVehicles(items ...Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles = append(s.vehicles, items...)
}

func (s *MemoryStore) PutProfile(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

func limitSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func (s *MemoryStore) ListExpenses(ctx context.Context, userID string, filter ExpenseFilter) ([]Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Expense
	for _, e := range s.expenses {
		if e.UserID != userID {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(e.Category, filter.Category) {
			continue
		}
		if !filter.Range.Contains(e.Date) {
			continue
		}
		if filter.MinAmount != nil && e.Amount < *filter.MinAmount {
			continue
		}
		if filter.MaxAmount != nil && e.Amount > *filter.MaxAmount {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return limitSlice(out, filter.Limit), nil
}

func (s *MemoryStore) ListBudgets(ctx context.Context, userID, category string) ([]Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Budget
	for _, b := range s.budgets {
		if b.UserID != userID {
			continue
		}
		if category != "" && !strings.EqualFold(b.Category, category) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (s *MemoryStore) SpentByCategory(ctx context.Context, userID string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string]float64)
	for _, e := range s.expenses {
		if e.UserID == userID {
			out[strings.ToLower(e.Category)] += e.Amount
		}
	}
	return out, nil
}

func (s *MemoryStore) ListIncome(ctx context.Context, userID string, filter IncomeFilter) ([]Income, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Income
	for _, in := range s.income {
		if in.UserID != userID {
			continue
		}
		if filter.Type != "" && in.Type != filter.Type {
			continue
		}
		if !filter.Range.Contains(in.Date) {
			continue
		}
		out = append(out, in)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return limitSlice(out, filter.Limit), nil
}

func (s *MemoryStore) ListFuel(ctx context.Context, userID string, filter FuelFilter) ([]FuelPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []FuelPurchase
	for _, f := range s.fuel {
		if f.UserID == userID && filter.Range.Contains(f.Date) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return limitSlice(out, filter.Limit), nil
}

func (s *MemoryStore) ListTrips(ctx context.Context, userID string, filter TripFilter) ([]Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Trip
	for _, t := range s.trips {
		if t.UserID != userID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if !filter.Range.Contains(t.StartDate) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.After(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return limitSlice(out, filter.Limit), nil
}

func (s *MemoryStore) GetTrip(ctx context.Context, userID, tripID string) (*Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	for _, t := range s.trips {
		if t.UserID == userID && t.ID == tripID {
			trip := t
			return &trip, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ListVehicles(ctx context.Context, userID string) ([]Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Vehicle
	for _, v := range s.vehicles {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Search(ctx context.Context, userID string, q SearchQuery) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, nil
	}
	match := func(fields ...string) bool {
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), needle) {
				return true
			}
		}
		return false
	}

	var hits []SearchHit
	if q.Scope.Includes(ScopeExpenses) {
		for _, e := range s.expenses {
			if e.UserID == userID && match(e.Category, e.Description) {
				title := e.Category
				if e.Description != "" {
					title += ": " + e.Description
				}
				hits = append(hits, SearchHit{Kind: ScopeExpenses, ID: e.ID, Title: title, Amount: e.Amount, Date: e.Date})
			}
		}
	}
	if q.Scope.Includes(ScopeTrips) {
		for _, t := range s.trips {
			if t.UserID == userID && match(t.Name, t.Destination) {
				hits = append(hits, SearchHit{Kind: ScopeTrips, ID: t.ID, Title: t.Name, Amount: t.Budget, Date: t.StartDate})
			}
		}
	}
	if q.Scope.Includes(ScopeIncome) {
		for _, in := range s.income {
			if in.UserID == userID && match(in.Source, in.Description) {
				hits = append(hits, SearchHit{Kind: ScopeIncome, ID: in.ID, Title: in.Source, Amount: in.Amount, Date: in.Date})
			}
		}
	}
	sortHits(hits)
	return limitSlice(hits, q.Limit), nil
}

// Close marks the store closed; subsequent reads fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
