// Package cache holds the Redis-backed warehouse directory.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
)

// DirectoryKey is the Redis key holding the warehouse directory snapshot.
const DirectoryKey = "stockalloc:warehouses"

// DefaultTTL is used when the directory is created with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// WarehouseDirectory serves the active warehouse list from Redis and falls
// back to the repository on a miss. Redis failures are logged and never fail
// the read.
type WarehouseDirectory struct {
	client *redis.Client
	repo   repository.WarehouseRepository
	ttl    time.Duration
	logger *slog.Logger
	sfg    singleflight.Group
}

// NewWarehouseDirectory creates a cached directory over repo.
func NewWarehouseDirectory(client *redis.Client, repo repository.WarehouseRepository, ttl time.Duration, logger *slog.Logger) *WarehouseDirectory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &WarehouseDirectory{client: client, repo: repo, ttl: ttl, logger: logger}
}

// ListActive returns the active warehouses ordered by id.
func (d *WarehouseDirectory) ListActive(ctx context.Context) ([]domain.Warehouse, error) {
	v, err, _ := d.sfg.Do(DirectoryKey, func() (any, error) {
		warehouses, err := d.get(ctx)
		if err == nil {
			return warehouses, nil
		}
		if !errors.Is(err, redis.Nil) {
			d.logger.WarnContext(ctx, "warehouse cache read failed", slog.String("error", err.Error()))
		}

		warehouses, err = d.repo.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("list active warehouses: %w", err)
		}
		if err := d.set(ctx, warehouses); err != nil {
			d.logger.WarnContext(ctx, "warehouse cache write failed", slog.String("error", err.Error()))
		}
		return warehouses, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Warehouse), nil
}

// Upsert stores w and drops the cached snapshot.
func (d *WarehouseDirectory) Upsert(ctx context.Context, w *domain.Warehouse) error {
	if err := d.repo.Upsert(ctx, w); err != nil {
		return err
	}
	return d.Invalidate(ctx)
}

// Invalidate drops the cached snapshot.
func (d *WarehouseDirectory) Invalidate(ctx context.Context) error {
	if err := d.client.Del(ctx, DirectoryKey).Err(); err != nil {
		return fmt.Errorf("invalidate warehouse cache: %w", err)
	}
	return nil
}

func (d *WarehouseDirectory) get(ctx context.Context) ([]domain.Warehouse, error) {
	data, err := d.client.Get(ctx, DirectoryKey).Bytes()
	if err != nil {
		return nil, err
	}
	var warehouses []domain.Warehouse
	if err := json.Unmarshal(data, &warehouses); err != nil {
		return nil, fmt.Errorf("unmarshal warehouse snapshot: %w", err)
	}
	return warehouses, nil
}

func (d *WarehouseDirectory) set(ctx context.Context, warehouses []domain.Warehouse) error {
	data, err := json.Marshal(warehouses)
	if err != nil {
		return fmt.Errorf("marshal warehouse snapshot: %w", err)
	}
	return d.client.Set(ctx, DirectoryKey, data, d.ttl).Err()
}
