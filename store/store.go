// Package store persists rental locations, vehicle inventory, and
// reservations. A Redis backend is used when one is reachable; otherwise a
// seeded in-memory store serves the same interface, so the function
// endpoints work out of the box in development.
package store

import (
	"context"
	"time"
)

// Vehicle is one rentable unit in a location's inventory.
type Vehicle struct {
	VehicleID    string `json:"vehicleId"`
	VehicleType  string `json:"vehicleType"`
	Manufacturer string `json:"manufacturer"`
	VehicleModel string `json:"vehicleModel"`
}

// Location is a rental branch with its current inventory.
type Location struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	Inventory []Vehicle `json:"inventory,omitempty"`
}

// Reservation is a booking made against a location.
type Reservation struct {
	ID              string `json:"id"`
	LocationID      string `json:"locationId"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	CustomerName    string `json:"customerName"`
	CustomerContact string `json:"customerContact,omitempty"`
	VehicleType     string `json:"vehicleType,omitempty"`
	VehicleID       string `json:"vehicleId,omitempty"`
	Status          string `json:"status"`
	CreatedAt       string `json:"createdAt"`
}

// Store is the persistence interface shared by the Redis and in-memory
// backends.
type Store interface {
	ListLocations(ctx context.Context) ([]Location, error)
	GetLocation(ctx context.Context, id string) (*Location, error)
	CreateReservation(ctx context.Context, r Reservation) (Reservation, error)
	ReservationsByCustomer(ctx context.Context, customerName string) ([]Reservation, error)
	Close() error
}

// Open connects to Redis at addr; when addr is empty or the ping fails, it
// degrades to the seeded in-memory store. logger may be nil.
func Open(ctx context.Context, addr, password string, logger func(event string, fields map[string]any)) Store {
	log := logger
	if log == nil {
		log = func(string, map[string]any) {}
	}
	if addr == "" {
		log("store_memory", map[string]any{"reason": "no redis address configured"})
		return NewMemoryStore()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rs, err := openRedis(pingCtx, addr, password)
	if err != nil {
		log("store_memory", map[string]any{"reason": "redis unreachable", "addr": addr, "err": err.Error()})
		return NewMemoryStore()
	}
	log("store_redis", map[string]any{"addr": addr})
	return rs
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
