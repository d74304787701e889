package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	locationKeyPrefix    = "location:"
	reservationKeyPrefix = "reservation:"
	locationSetKey       = "locations"
	customerIndexPrefix  = "customer:"
)

// RedisStore persists locations and reservations as JSON values with set
// indexes for enumeration and per-customer lookup.
type RedisStore struct {
	rdb *redis.Client
}

func openRedis(ctx context.Context, addr, password string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	s := &RedisStore{rdb: rdb}
	if err := s.seedIfEmpty(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return s, nil
}

// seedIfEmpty loads the sample branches on first use so a fresh Redis
// behaves like the in-memory store.
func (s *RedisStore) seedIfEmpty(ctx context.Context) error {
	n, err := s.rdb.SCard(ctx, locationSetKey).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, loc := range SeedLocations() {
		b, err := json.Marshal(loc)
		if err != nil {
			return err
		}
		pipe := s.rdb.TxPipeline()
		pipe.Set(ctx, locationKeyPrefix+loc.ID, b, 0)
		pipe.SAdd(ctx, locationSetKey, loc.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) ListLocations(ctx context.Context) ([]Location, error) {
	ids, err := s.rdb.SMembers(ctx, locationSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	out := make([]Location, 0, len(ids))
	for _, id := range ids {
		loc, err := s.GetLocation(ctx, id)
		if err != nil {
			return nil, err
		}
		if loc != nil {
			out = append(out, *loc)
		}
	}
	return out, nil
}

func (s *RedisStore) GetLocation(ctx context.Context, id string) (*Location, error) {
	b, err := s.rdb.Get(ctx, locationKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get location %s: %w", id, err)
	}
	var loc Location
	if err := json.Unmarshal(b, &loc); err != nil {
		return nil, fmt.Errorf("decode location %s: %w", id, err)
	}
	return &loc, nil
}

func (s *RedisStore) CreateReservation(ctx context.Context, r Reservation) (Reservation, error) {
	r.ID = "r-" + uuid.NewString()[:8]
	if r.Status == "" {
		r.Status = "reserved"
	}
	if r.CreatedAt == "" {
		r.CreatedAt = nowISO()
	}

	b, err := json.Marshal(r)
	if err != nil {
		return Reservation{}, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, reservationKeyPrefix+r.ID, b, 0)
	pipe.SAdd(ctx, customerIndexPrefix+r.CustomerName, r.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return Reservation{}, fmt.Errorf("create reservation: %w", err)
	}
	return r, nil
}

func (s *RedisStore) ReservationsByCustomer(ctx context.Context, customerName string) ([]Reservation, error) {
	ids, err := s.rdb.SMembers(ctx, customerIndexPrefix+customerName).Result()
	if err != nil {
		return nil, fmt.Errorf("reservations by customer: %w", err)
	}
	var out []Reservation
	for _, id := range ids {
		b, err := s.rdb.Get(ctx, reservationKeyPrefix+id).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get reservation %s: %w", id, err)
		}
		var r Reservation
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("decode reservation %s: %w", id, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
