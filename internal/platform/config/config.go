package config

import (
	"os"
	"strconv"
)

// Server captures process level configuration.
type Server struct {
	Addr string

	// DatabaseURL selects the Postgres document store; when empty the server
	// runs on the in-memory stores (local dev, tests).
	DatabaseURL string

	// RedisAddr selects the Redis email index; empty falls back to the
	// store-backed index.
	RedisAddr string

	// CounterFloor is the minimum value any ID counter may issue from.
	CounterFloor int
}

// DefaultCounterFloor keeps freshly initialized counters clear of the
// low numbers that were hand-assigned before counters existed.
const DefaultCounterFloor = 100

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("MEMBERDIR_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	floor := DefaultCounterFloor
	if raw := os.Getenv("MEMBERDIR_COUNTER_FLOOR"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			floor = v
		}
	}

	return Server{
		Addr:         addr,
		DatabaseURL:  os.Getenv("MEMBERDIR_DATABASE_URL"),
		RedisAddr:    os.Getenv("MEMBERDIR_REDIS_ADDR"),
		CounterFloor: floor,
	}
}
