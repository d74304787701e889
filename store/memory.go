package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store seeded with sample branches. It is the
// development fallback when Redis is not configured.
type MemoryStore struct {
	mu           sync.RWMutex
	locations    []Location
	reservations []Reservation
	nextID       int
}

// NewMemoryStore returns a store seeded with three sample branches.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: SeedLocations(),
		nextID:    1,
	}
}

// SeedLocations returns the built-in sample branch data.
func SeedLocations() []Location {
	return []Location{
		{
			ID: "loc1", Name: "東京レンタカー", Address: "東京都千代田区1-1", Phone: "+81-3-0000-0001",
			Inventory: []Vehicle{
				{VehicleID: "v-loc1-001", VehicleType: "コンパクト", Manufacturer: "トヨタ", VehicleModel: "ヤリス"},
				{VehicleID: "v-loc1-002", VehicleType: "SUV", Manufacturer: "ホンダ", VehicleModel: "CR-V"},
			},
		},
		{
			ID: "loc2", Name: "大阪レンタカー", Address: "大阪市北区2-2", Phone: "+81-6-0000-0002",
			Inventory: []Vehicle{
				{VehicleID: "v-loc2-001", VehicleType: "コンパクト", Manufacturer: "日産", VehicleModel: "マーチ"},
			},
		},
		{
			ID: "loc3", Name: "名古屋レンタカー", Address: "名古屋市中区3-3", Phone: "+81-52-0000-0003",
			Inventory: []Vehicle{
				{VehicleID: "v-loc3-001", VehicleType: "コンパクト", Manufacturer: "トヨタ", VehicleModel: "ヤリス"},
			},
		},
	}
}

func (s *MemoryStore) ListLocations(_ context.Context) ([]Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Location, len(s.locations))
	copy(out, s.locations)
	return out, nil
}

func (s *MemoryStore) GetLocation(_ context.Context, id string) (*Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.locations {
		if s.locations[i].ID == id {
			loc := s.locations[i]
			return &loc, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateReservation(_ context.Context, r Reservation) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = fmt.Sprintf("r-%04d", s.nextID)
	s.nextID++
	if r.Status == "" {
		r.Status = "reserved"
	}
	if r.CreatedAt == "" {
		r.CreatedAt = nowISO()
	}
	s.reservations = append(s.reservations, r)
	return r, nil
}

func (s *MemoryStore) ReservationsByCustomer(_ context.Context, customerName string) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Reservation
	for _, r := range s.reservations {
		if r.CustomerName == customerName {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
