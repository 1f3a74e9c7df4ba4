package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"catalog_etl/models"
)

// ErrKind separates failures of the schema from failures of ordinary reads
// and writes.
type ErrKind string

const (
	KindIOFailure   ErrKind = "io_failure"
	KindSchemaError ErrKind = "schema_error"
)

// StoreError is returned by every SQLiteStore operation that touches the
// database.
type StoreError struct {
	Op   string
	Kind ErrKind
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func ioErr(op string, err error) error {
	return &StoreError{Op: op, Kind: KindIOFailure, Err: err}
}

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database file at dbPath and
// ensures the products and logs tables exist. WAL lets read-only tools query
// the file while a run is writing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, ioErr("open", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, &StoreError{Op: "migrate", Kind: KindSchemaError, Err: err}
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		product_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		price_usd REAL NOT NULL,
		description TEXT,
		category TEXT,
		image_url TEXT,
		avg_rating REAL,
		review_count INTEGER,
		price_converted REAL,
		is_expensive BOOLEAN,
		weighted_value REAL
	);

	CREATE TABLE IF NOT EXISTS logs (
		run_id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		execution_id TEXT
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if err := s.upgradeLegacy(); err != nil {
		return err
	}

	_, err := s.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_logs_status ON logs(status, run_id);
	CREATE INDEX IF NOT EXISTS idx_logs_execution ON logs(execution_id);
	`)
	return err
}

// legacyProductColumns maps column names of databases written by the
// earlier fetch_products script to the current ones.
var legacyProductColumns = map[string]string{
	"desc":            "description",
	"category_norm":   "category",
	"price_inr":       "price_converted",
	"total_value_inr": "weighted_value",
}

// upgradeLegacy brings a products.db created by the earlier script up to the
// current schema. Existing rows and run ids are kept.
func (s *SQLiteStore) upgradeLegacy() error {
	products, err := s.columns("products")
	if err != nil {
		return err
	}
	for from, to := range legacyProductColumns {
		if products[from] && !products[to] {
			if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE products RENAME COLUMN "%s" TO %s`, from, to)); err != nil {
				return fmt.Errorf("rename products.%s: %w", from, err)
			}
		}
	}

	logs, err := s.columns("logs")
	if err != nil {
		return err
	}
	if !logs["execution_id"] {
		if _, err := s.db.Exec(`ALTER TABLE logs ADD COLUMN execution_id TEXT`); err != nil {
			return fmt.Errorf("add logs.execution_id: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) columns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Upsert writes the whole batch in one transaction. A product whose id is
// already stored has every column replaced; nothing else is touched.
func (s *SQLiteStore) Upsert(ctx context.Context, products []models.Product) (models.UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.UpsertResult{}, ioErr("upsert", fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (product_id, name, price_usd, description, category, image_url,
			avg_rating, review_count, price_converted, is_expensive, weighted_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_id) DO UPDATE SET
			name = excluded.name,
			price_usd = excluded.price_usd,
			description = excluded.description,
			category = excluded.category,
			image_url = excluded.image_url,
			avg_rating = excluded.avg_rating,
			review_count = excluded.review_count,
			price_converted = excluded.price_converted,
			is_expensive = excluded.is_expensive,
			weighted_value = excluded.weighted_value`)
	if err != nil {
		return models.UpsertResult{}, ioErr("upsert", fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	for _, p := range products {
		if _, err := stmt.ExecContext(ctx, p.ID, p.Name, p.PriceUSD, p.Description, p.Category, p.ImageURL,
			p.AvgRating, p.ReviewCount, p.PriceConverted, p.IsExpensive, p.WeightedValue); err != nil {
			return models.UpsertResult{}, ioErr("upsert", fmt.Errorf("product %d: %w", p.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return models.UpsertResult{}, ioErr("upsert", fmt.Errorf("commit: %w", err))
	}

	total, err := s.ProductCount(ctx)
	if err != nil {
		return models.UpsertResult{}, err
	}
	return models.UpsertResult{Updated: len(products), Total: total}, nil
}

func (s *SQLiteStore) ProductCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, ioErr("count products", err)
	}
	return count, nil
}

// Products returns every stored row ordered by id.
func (s *SQLiteStore) Products(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, price_usd, COALESCE(description, ''), COALESCE(category, ''),
			COALESCE(image_url, ''), COALESCE(avg_rating, 0), COALESCE(review_count, 0),
			COALESCE(price_converted, 0), COALESCE(is_expensive, FALSE), COALESCE(weighted_value, 0)
		FROM products ORDER BY product_id`)
	if err != nil {
		return nil, ioErr("list products", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceUSD, &p.Description, &p.Category, &p.ImageURL,
			&p.AvgRating, &p.ReviewCount, &p.PriceConverted, &p.IsExpensive, &p.WeightedValue); err != nil {
			return nil, ioErr("list products", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("list products", err)
	}
	return products, nil
}

// AppendLog inserts one status entry and returns its run id. A zero
// timestamp is replaced with the current time.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry models.RunLogEntry) (int64, error) {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (timestamp, status, message, execution_id)
		VALUES (?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339Nano), string(entry.Status), entry.Message, entry.ExecutionID)
	if err != nil {
		return 0, ioErr("append log", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, ioErr("append log", err)
	}
	return id, nil
}

// RecentLogs returns up to limit entries, newest first.
func (s *SQLiteStore) RecentLogs(ctx context.Context, limit int) ([]models.RunLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, timestamp, status, COALESCE(message, ''), COALESCE(execution_id, '')
		FROM logs ORDER BY run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, ioErr("recent logs", err)
	}
	defer rows.Close()

	var entries []models.RunLogEntry
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, ioErr("recent logs", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("recent logs", err)
	}
	return entries, nil
}

// LastRun returns the newest entry with the given status, or nil when there
// is none.
func (s *SQLiteStore) LastRun(ctx context.Context, status models.RunStatus) (*models.RunLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, timestamp, status, COALESCE(message, ''), COALESCE(execution_id, '')
		FROM logs WHERE status = ? ORDER BY run_id DESC LIMIT 1`, string(status))

	entry, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("last run", err)
	}
	return &entry, nil
}

// ClearProducts removes every product row. The logs table is left alone.
func (s *SQLiteStore) ClearProducts(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM products`)
	if err != nil {
		return 0, ioErr("clear products", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(row scanner) (models.RunLogEntry, error) {
	var (
		entry  models.RunLogEntry
		ts     string
		status string
	)
	if err := row.Scan(&entry.RunID, &ts, &status, &entry.Message, &entry.ExecutionID); err != nil {
		return entry, err
	}
	entry.Status = models.RunStatus(status)

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		// Rows written by the earlier script carry a local time without zone.
		legacy, lerr := time.ParseInLocation(legacyTimestampLayout, ts, time.Local)
		if lerr != nil {
			return entry, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		parsed = legacy
	}
	entry.Timestamp = parsed
	return entry, nil
}

const legacyTimestampLayout = "2006-01-02T15:04:05.999999999"

