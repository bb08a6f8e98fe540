package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/pkg/database"
)

// WarehouseRepository implements repository.WarehouseRepository.
type WarehouseRepository struct {
	pool database.DBTX
}

// NewWarehouseRepository creates a new PostgreSQL-backed warehouse repository.
func NewWarehouseRepository(pool database.DBTX) *WarehouseRepository {
	return &WarehouseRepository{pool: pool}
}

// ListActive returns every active warehouse ordered by id.
func (r *WarehouseRepository) ListActive(ctx context.Context) ([]domain.Warehouse, error) {
	query := `
		SELECT id, name, country, latitude, longitude, contact_email, contact_phone, active, updated_at
		FROM warehouses
		WHERE active
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	defer rows.Close()

	warehouses := []domain.Warehouse{}
	for rows.Next() {
		var (
			w        domain.Warehouse
			lat, lon *float64
		)
		if err := rows.Scan(&w.ID, &w.Name, &w.Country, &lat, &lon,
			&w.ContactEmail, &w.ContactPhone, &w.Active, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan warehouse row: %w", err)
		}
		if lat != nil && lon != nil {
			w.Location = &domain.GeoPoint{Latitude: *lat, Longitude: *lon}
		}
		warehouses = append(warehouses, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate warehouse rows: %w", err)
	}

	return warehouses, nil
}

// Upsert inserts or replaces a warehouse.
func (r *WarehouseRepository) Upsert(ctx context.Context, w *domain.Warehouse) error {
	query := `
		INSERT INTO warehouses (id, name, country, latitude, longitude, contact_email, contact_phone, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			country = EXCLUDED.country,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			contact_email = EXCLUDED.contact_email,
			contact_phone = EXCLUDED.contact_phone,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`

	var lat, lon *float64
	if w.Location != nil {
		lat, lon = &w.Location.Latitude, &w.Location.Longitude
	}

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.Name, w.Country, lat, lon,
		w.ContactEmail, w.ContactPhone, w.Active, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert warehouse: %w", err)
	}
	return nil
}
