package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalog_etl/models"
)

const mirrorBatchSize = 200

// PostgresMirror copies the products table into Postgres after a successful
// run so other services can read the catalog without touching the SQLite
// file.
type PostgresMirror struct {
	pool *pgxpool.Pool
}

func NewPostgresMirror(ctx context.Context, connString string) (*PostgresMirror, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	m := &PostgresMirror{pool: pool}
	if err := m.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return m, nil
}

func (m *PostgresMirror) Close() {
	m.pool.Close()
}

func (m *PostgresMirror) Name() string {
	return "postgres"
}

func (m *PostgresMirror) EnsureSchema(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			product_id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			price_usd DOUBLE PRECISION NOT NULL,
			description TEXT,
			category TEXT,
			image_url TEXT,
			avg_rating DOUBLE PRECISION,
			review_count INTEGER,
			price_converted DOUBLE PRECISION,
			is_expensive BOOLEAN,
			weighted_value DOUBLE PRECISION,
			mirrored_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create products table: %w", err)
	}
	return nil
}

// Publish upserts every product in batches. Rows missing from products are
// left in place, matching the local store.
func (m *PostgresMirror) Publish(ctx context.Context, products []models.Product) error {
	_, err := m.Mirror(ctx, products)
	return err
}

// Mirror returns the number of rows written.
func (m *PostgresMirror) Mirror(ctx context.Context, products []models.Product) (int, error) {
	total := 0
	for i := 0; i < len(products); i += mirrorBatchSize {
		j := i + mirrorBatchSize
		if j > len(products) {
			j = len(products)
		}

		b := &pgx.Batch{}
		for _, p := range products[i:j] {
			b.Queue(`
				INSERT INTO products (product_id, name, price_usd, description, category, image_url,
					avg_rating, review_count, price_converted, is_expensive, weighted_value, mirrored_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
				ON CONFLICT (product_id) DO UPDATE SET
					name = EXCLUDED.name,
					price_usd = EXCLUDED.price_usd,
					description = EXCLUDED.description,
					category = EXCLUDED.category,
					image_url = EXCLUDED.image_url,
					avg_rating = EXCLUDED.avg_rating,
					review_count = EXCLUDED.review_count,
					price_converted = EXCLUDED.price_converted,
					is_expensive = EXCLUDED.is_expensive,
					weighted_value = EXCLUDED.weighted_value,
					mirrored_at = NOW()`,
				p.ID, p.Name, p.PriceUSD, p.Description, p.Category, p.ImageURL,
				p.AvgRating, p.ReviewCount, p.PriceConverted, p.IsExpensive, p.WeightedValue,
			)
		}

		br := m.pool.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return total, fmt.Errorf("mirror product %d: %w", products[k].ID, err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return total, fmt.Errorf("close batch: %w", err)
		}
	}
	return total, nil
}

// Count returns the number of mirrored rows.
func (m *PostgresMirror) Count(ctx context.Context) (int, error) {
	var n int
	err := m.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}
