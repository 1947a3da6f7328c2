package store

import (
	"context"
	"fmt"
)

// Config selects and configures a backend
type Config struct {
	Backend       string
	Path          string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open creates the configured store. The returned close function releases backend connections.
func Open(ctx context.Context, cfg Config) (Store, func(), error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), func() {}, nil
	case BackendFile:
		s, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case BackendPostgres:
		s, err := NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, s.Close, nil
	case BackendRedis:
		s, err := NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown record store backend: %s", cfg.Backend)
	}
}
