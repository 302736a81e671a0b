package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/catalog-crawler/internal/database"
	"github.com/maltedev/catalog-crawler/internal/models"
	"github.com/maltedev/catalog-crawler/internal/parser"
	"github.com/maltedev/catalog-crawler/internal/storage"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeItemExtracted is published for every extracted catalog item
	EventTypeItemExtracted EventType = database.EventItemExtracted
)

// ItemExtractedPayload is the payload of an ITEM_EXTRACTED event.
type ItemExtractedPayload struct {
	EventID         string                       `json:"event_id"`
	EventType       string                       `json:"event_type"`
	Timestamp       time.Time                    `json:"timestamp"`
	RunID           string                       `json:"run_id"`
	ItemID          string                       `json:"item_id"`
	URL             string                       `json:"url"`
	Brand           string                       `json:"brand"`
	Name            string                       `json:"name"`
	PriceLabel      string                       `json:"price_label"`
	Price           string                       `json:"price"`
	Sizes           map[string]models.SizeInfo   `json:"sizes"`
	AvailableSizes  []string                     `json:"available_sizes"`
	Colors          []string                     `json:"colors"`
	AttributeGroups map[string]map[string]string `json:"attribute_groups,omitempty"`
	ScrapedAt       time.Time                    `json:"scraped_at"`
	FirstSeen       bool                         `json:"first_seen"`
	Source          string                       `json:"source"`
}

// NewItemExtractedPayload builds the event payload for one record.
func NewItemExtractedPayload(runID string, r *models.ItemRecord, firstSeen bool) *ItemExtractedPayload {
	return &ItemExtractedPayload{
		EventID:         uuid.New().String(),
		EventType:       string(EventTypeItemExtracted),
		Timestamp:       time.Now(),
		RunID:           runID,
		ItemID:          r.ID,
		URL:             r.URL,
		Brand:           r.Brand,
		Name:            r.Name,
		PriceLabel:      r.PriceLabel,
		Price:           parser.CleanPrice(r.PriceLabel),
		Sizes:           r.Sizes,
		AvailableSizes:  parser.AvailableSizes(r.Sizes),
		Colors:          r.Colors,
		AttributeGroups: r.AttributeGroups,
		ScrapedAt:       r.ScrapedAt,
		FirstSeen:       firstSeen,
		Source:          "crawler",
	}
}

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type (
	upsertFunc func(ctx context.Context, tx pgx.Tx, r *models.ItemRecord, runID string) (bool, error)
	insertFunc func(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) (bool, error)
)

// Publisher mirrors extracted records into Postgres and queues one
// outbox event per record in the same transaction.
type Publisher struct {
	db     TxRunner
	upsert upsertFunc
	insert insertFunc
	stream string
	logger *slog.Logger
}

var _ storage.Mirror = (*Publisher)(nil)

// NewPublisher creates a new event publisher with database connection
func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	outbox := database.NewOutboxRepository(db)
	return &Publisher{
		db: db,
		upsert: func(ctx context.Context, tx pgx.Tx, r *models.ItemRecord, runID string) (bool, error) {
			return database.UpsertItemWithTx(ctx, tx, r, runID)
		},
		insert: outbox.InsertWithTx,
		stream: database.DefaultStream,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishItem upserts one record and queues its ITEM_EXTRACTED event.
func (p *Publisher) PublishItem(ctx context.Context, runID string, r *models.ItemRecord) error {
	return p.db.Transaction(ctx, func(tx pgx.Tx) error {
		firstSeen, err := p.upsert(ctx, tx, r, runID)
		if err != nil {
			return err
		}

		payload := NewItemExtractedPayload(runID, r, firstSeen)
		outboxEvent, err := database.NewItemEvent(runID, r.ID, payload)
		if err != nil {
			return err
		}
		outboxEvent.TargetStream = p.stream

		queued, err := p.insert(ctx, tx, outboxEvent)
		if err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		if !queued {
			p.logger.Debug("item already announced in this run",
				"run_id", runID,
				"item_id", r.ID)
			return nil
		}

		p.logger.Debug("event published to outbox",
			"event_id", payload.EventID,
			"run_id", runID,
			"item_id", r.ID,
			"first_seen", firstSeen,
			"outbox_id", outboxEvent.ID)
		return nil
	})
}

// MirrorRecords publishes every record in its own transaction. A failed
// record does not stop the rest.
func (p *Publisher) MirrorRecords(ctx context.Context, meta models.RunMetadata, records []*models.ItemRecord) error {
	var errs []error
	published := 0

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.PublishItem(ctx, meta.RunID, r); err != nil {
			p.logger.Warn("failed to mirror item", "item_id", r.ID, "error", err)
			errs = append(errs, fmt.Errorf("item %s: %w", r.ID, err))
			continue
		}
		published++
	}

	p.logger.Info("records mirrored",
		"run_id", meta.RunID,
		"published", published,
		"failed", len(records)-published)

	return errors.Join(errs...)
}
