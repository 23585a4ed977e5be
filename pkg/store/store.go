// Package store defines the backing data capability for the bridge's
// demo toolset. The session core has no dependency on it; tool handlers
// receive a Store at registration time.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound reports a missing customer.
var ErrNotFound = errors.New("customer not found")

// Customer is one account record.
type Customer struct {
	ID              string
	MembershipLevel string
	AccountStatus   string
}

// Order is one product order held by a customer.
type Order struct {
	ProductID string
	Name      string
	Price     float64
	Status    string
}

// Store is the lookup/update capability backing the demo tools.
type Store interface {
	GetCustomer(ctx context.Context, customerID string) (Customer, error)
	ListOrders(ctx context.Context, customerID string) ([]Order, error)
	UpdateAccountStatus(ctx context.Context, customerID, newStatus string) (Customer, error)
}

// MemoryStore is the in-process Store used without a database. The seed
// mirrors the demo data set: two customers, two products.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[string]Customer
	orders    map[string][]Order
}

// NewMemoryStore returns a MemoryStore with the demo seed.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: map[string]Customer{
			"c1": {ID: "c1", MembershipLevel: "Gold", AccountStatus: "Active"},
			"c2": {ID: "c2", MembershipLevel: "Silver", AccountStatus: "Pending"},
		},
		orders: map[string][]Order{
			"c1": {
				{ProductID: "p1", Name: "Wireless Earbuds", Price: 79.99, Status: "Shipped"},
				{ProductID: "p2", Name: "Laptop Backpack", Price: 49.99, Status: "Pending"},
			},
			"c2": {
				{ProductID: "p1", Name: "Wireless Earbuds", Price: 79.99, Status: "Delivered"},
			},
		},
	}
}

func (s *MemoryStore) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customers[customerID]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return customer, nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, customerID string) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.customers[customerID]; !ok {
		return nil, ErrNotFound
	}
	orders := append([]Order(nil), s.orders[customerID]...)
	sort.Slice(orders, func(i, j int) bool { return orders[i].ProductID < orders[j].ProductID })
	return orders, nil
}

func (s *MemoryStore) UpdateAccountStatus(ctx context.Context, customerID, newStatus string) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	customer, ok := s.customers[customerID]
	if !ok {
		return Customer{}, ErrNotFound
	}
	customer.AccountStatus = newStatus
	s.customers[customerID] = customer
	return customer, nil
}
