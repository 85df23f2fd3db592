// Package store persists catalog products in PostgreSQL.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

//go:embed schema.sql
var schema string

// ErrProductNotFound is returned when an update targets a missing product.
var ErrProductNotFound = errors.New("product not found")

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Migrate applies the catalog schema. Statements are idempotent.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Store implements core.SkuLookup and core.RecordStore.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store on pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const lookupExisting = `
SELECT id::text, sku, name
FROM products
WHERE sku = ANY($1)
ORDER BY sku`

// LookupExisting returns stored products whose SKU is in skus.
func (s *Store) LookupExisting(ctx context.Context, skus []string) ([]core.ExistingRecord, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, lookupExisting, skus)
	if err != nil {
		return nil, fmt.Errorf("query existing skus: %w", err)
	}
	defer rows.Close()

	var out []core.ExistingRecord
	for rows.Next() {
		var rec core.ExistingRecord
		if err := rows.Scan(&rec.ID, &rec.SKU, &rec.Name); err != nil {
			return nil, fmt.Errorf("scan existing sku: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const insertProduct = `
INSERT INTO products (id, sku, name, description, category)
VALUES ($1, $2, $3, $4, $5)`

// CreateProduct inserts a product and returns its new id.
func (s *Store) CreateProduct(ctx context.Context, p core.ProductRecord) (string, error) {
	id := uuid.NewString()
	if _, err := s.pool.Exec(ctx, insertProduct, id, p.SKU, p.Name, p.Description, p.Category); err != nil {
		return "", fmt.Errorf("insert product %s: %w", p.SKU, err)
	}
	return id, nil
}

const updateProduct = `
UPDATE products
SET sku = $2, name = $3, description = $4, category = $5, updated_at = now()
WHERE id = $1`

// UpdateProduct overwrites the base fields of product id.
func (s *Store) UpdateProduct(ctx context.Context, id string, p core.ProductRecord) error {
	tag, err := s.pool.Exec(ctx, updateProduct, id, p.SKU, p.Name, p.Description, p.Category)
	if err != nil {
		return fmt.Errorf("update product %s: %w", p.SKU, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return nil
}

// CreateVariants inserts variants for productID in one transaction.
func (s *Store) CreateVariants(ctx context.Context, productID string, variants []core.VariantRecord) (int, error) {
	var n int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		n, err = insertVariants(ctx, tx, productID, variants)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

const deleteVariants = `DELETE FROM product_variants WHERE product_id = $1`

// ReplaceVariants deletes every variant of productID and inserts variants,
// atomically.
func (s *Store) ReplaceVariants(ctx context.Context, productID string, variants []core.VariantRecord) (int, error) {
	var n int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteVariants, productID); err != nil {
			return fmt.Errorf("delete variants: %w", err)
		}
		var err error
		n, err = insertVariants(ctx, tx, productID, variants)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

const insertVariant = `
INSERT INTO product_variants (id, product_id, color, stock, price, price_retail, price_wholesale, image_urls)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func insertVariants(ctx context.Context, tx pgx.Tx, productID string, variants []core.VariantRecord) (int, error) {
	if len(variants) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, v := range variants {
		urls := v.ImageURLs
		if urls == nil {
			urls = []string{}
		}
		batch.Queue(insertVariant,
			uuid.NewString(), productID, v.Color, v.Stock,
			v.Price, v.PriceRetail, v.PriceWholesale, urls,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for _, v := range variants {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("insert variant %s: %w", v.Color, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("insert variants: %w", err)
	}
	return len(variants), nil
}

// Variant is a stored variant as read back from the database.
type Variant struct {
	Color     string
	Stock     int
	Price     string
	ImageURLs []string
}

const listVariants = `
SELECT color, stock, price::text, image_urls
FROM product_variants
WHERE product_id = $1
ORDER BY created_at, color`

// ListVariants returns the variants of productID.
func (s *Store) ListVariants(ctx context.Context, productID string) ([]Variant, error) {
	rows, err := s.pool.Query(ctx, listVariants, productID)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Variant, error) {
		var v Variant
		err := row.Scan(&v.Color, &v.Stock, &v.Price, &v.ImageURLs)
		return v, err
	})
}
