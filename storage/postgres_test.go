package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_etl/models"
)

// Needs a scratch database; the products table in it is overwritten.
func TestPostgresMirror_Publish(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mirror, err := NewPostgresMirror(ctx, dsn)
	require.NoError(t, err)
	defer mirror.Close()

	_, err = mirror.pool.Exec(ctx, `TRUNCATE products`)
	require.NoError(t, err)

	batch := []models.Product{product(1, "a", 60), product(2, "b", 150)}
	n, err := mirror.Mirror(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	batch[0].Name = "a renamed"
	require.NoError(t, mirror.Publish(ctx, batch))

	count, err := mirror.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var name string
	require.NoError(t, mirror.pool.QueryRow(ctx, `SELECT name FROM products WHERE product_id = 1`).Scan(&name))
	assert.Equal(t, "a renamed", name)
}

func TestNewPostgresMirror_BadDSN(t *testing.T) {
	_, err := NewPostgresMirror(context.Background(), "postgres://%zz")
	require.Error(t, err)
}
