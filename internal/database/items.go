package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/catalog-crawler/internal/models"
	"github.com/maltedev/catalog-crawler/internal/parser"
)

var ErrItemNotFound = errors.New("catalog item not found")

// Querier is satisfied by both pgx.Tx and the pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpsertItemWithTx writes the latest extraction of an item within a
// transaction. It reports whether the row was newly created.
func UpsertItemWithTx(ctx context.Context, tx Querier, r *models.ItemRecord, runID string) (bool, error) {
	sizes, err := json.Marshal(r.Sizes)
	if err != nil {
		return false, fmt.Errorf("failed to marshal sizes: %w", err)
	}
	available, err := json.Marshal(parser.AvailableSizes(r.Sizes))
	if err != nil {
		return false, fmt.Errorf("failed to marshal available sizes: %w", err)
	}
	colors, err := json.Marshal(r.Colors)
	if err != nil {
		return false, fmt.Errorf("failed to marshal colors: %w", err)
	}
	groups, err := json.Marshal(r.AttributeGroups)
	if err != nil {
		return false, fmt.Errorf("failed to marshal attribute groups: %w", err)
	}

	var scrapedAt *time.Time
	if !r.ScrapedAt.IsZero() {
		scrapedAt = &r.ScrapedAt
	}

	query := `
		INSERT INTO catalog_item (
			id, url, brand, name, price_label, price,
			sizes, available_sizes, colors, attribute_groups,
			last_run_id, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			brand = EXCLUDED.brand,
			name = EXCLUDED.name,
			price_label = EXCLUDED.price_label,
			price = EXCLUDED.price,
			sizes = EXCLUDED.sizes,
			available_sizes = EXCLUDED.available_sizes,
			colors = EXCLUDED.colors,
			attribute_groups = EXCLUDED.attribute_groups,
			last_run_id = EXCLUDED.last_run_id,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = CURRENT_TIMESTAMP
		RETURNING (xmax = 0)`

	var inserted bool
	err = tx.QueryRow(ctx, query,
		r.ID, r.URL, r.Brand, r.Name, r.PriceLabel, parser.CleanPrice(r.PriceLabel),
		sizes, available, colors, groups,
		runID, scrapedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert catalog item %s: %w", r.ID, err)
	}

	return inserted, nil
}

// GetItem reads one mirrored item back as a record.
func (db *DB) GetItem(ctx context.Context, id string) (*models.ItemRecord, error) {
	query := `
		SELECT id, url, brand, name, price_label, sizes, colors, attribute_groups, scraped_at
		FROM catalog_item
		WHERE id = $1`

	var (
		r         models.ItemRecord
		sizes     []byte
		colors    []byte
		groups    []byte
		scrapedAt *time.Time
	)
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.URL, &r.Brand, &r.Name, &r.PriceLabel,
		&sizes, &colors, &groups, &scrapedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog item: %w", err)
	}

	if err := json.Unmarshal(sizes, &r.Sizes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sizes: %w", err)
	}
	if err := json.Unmarshal(colors, &r.Colors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal colors: %w", err)
	}
	if err := json.Unmarshal(groups, &r.AttributeGroups); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attribute groups: %w", err)
	}
	if scrapedAt != nil {
		r.ScrapedAt = *scrapedAt
	}

	return &r, nil
}
