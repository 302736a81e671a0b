package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	// OutboxStatusPending indicates the event is waiting to be relayed
	OutboxStatusPending = "pending"
	// OutboxStatusProcessed indicates the event reached its stream
	OutboxStatusProcessed = "processed"
	// OutboxStatusFailed indicates the last relay attempt failed (will be retried)
	OutboxStatusFailed = "failed"
	// OutboxStatusDeadLetter indicates the event failed too many times
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the maximum number of retries before moving to dead letter
	MaxRetryCount = 5

	AggregateCatalogItem = "catalog_item"
	EventItemExtracted   = "ITEM_EXTRACTED"
	DefaultStream        = "stream:catalog_items"

	maxRetryBackoff = 5 * time.Minute
)

var (
	// ErrInvalidEvent is returned for events missing their run, item or payload.
	ErrInvalidEvent = errors.New("invalid outbox event")
	// ErrEventNotFound is returned when a status update matches no event.
	ErrEventNotFound = errors.New("outbox event not found")
)

// OutboxEvent is one queued stream message. Item events are keyed by the
// run that extracted the item, so each run announces an item once.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	RunID         string          `db:"run_id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

// NewItemEvent builds the ITEM_EXTRACTED event of one item in one run.
func NewItemEvent(runID, itemID string, payload any) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	event := &OutboxEvent{
		RunID:         runID,
		AggregateType: AggregateCatalogItem,
		AggregateID:   itemID,
		EventType:     EventItemExtracted,
		Payload:       data,
		TargetStream:  DefaultStream,
	}
	return event, event.Validate()
}

// Validate checks the fields the relay and the run key depend on.
func (e *OutboxEvent) Validate() error {
	switch {
	case e.RunID == "":
		return fmt.Errorf("%w: missing run id", ErrInvalidEvent)
	case e.AggregateType == "":
		return fmt.Errorf("%w: missing aggregate type", ErrInvalidEvent)
	case e.AggregateID == "":
		return fmt.Errorf("%w: missing item id", ErrInvalidEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	case len(e.Payload) == 0 || !json.Valid(e.Payload):
		return fmt.Errorf("%w: payload is not JSON", ErrInvalidEvent)
	}
	return nil
}

// OutboxRepository handles outbox persistence for one aggregate type.
type OutboxRepository struct {
	db            *DB
	aggregateType string
}

// NewOutboxRepository creates a repository over catalog item events
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db, aggregateType: AggregateCatalogItem}
}

// InsertWithTx queues an event inside tx. It reports false when the run
// already queued the same event for the item; the stored event is kept.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) (bool, error) {
	if err := event.Validate(); err != nil {
		return false, err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultStream
	}

	now := time.Now()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	query := `
		INSERT INTO outbox_event (
			id, run_id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (run_id, aggregate_type, aggregate_id, event_type) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		event.ID, event.RunID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// GetPending returns this repository's events that are due for a relay
// attempt, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `
		SELECT
			id, run_id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE aggregate_type = $1
			AND status IN ($2, $3)
			AND next_retry_at <= NOW()
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := r.db.pool.Query(ctx, query,
		r.aggregateType, OutboxStatusPending, OutboxStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		event := &OutboxEvent{}
		err := rows.Scan(
			&event.ID, &event.RunID, &event.AggregateType, &event.AggregateID, &event.EventType,
			&event.Payload, &event.TargetStream, &event.Status, &event.RetryCount,
			&event.ErrorMessage, &event.CreatedAt, &event.ProcessedAt, &event.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// MarkProcessed marks an event as relayed
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_event
		SET status = $1, processed_at = NOW(), error_message = NULL
		WHERE id = $2`

	result, err := r.db.pool.Exec(ctx, query, OutboxStatusProcessed, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}

	return nil
}

// MarkFailed records a failed relay attempt in one statement. The retry
// delay doubles per attempt up to maxRetryBackoff, and the MaxRetryCount-th
// failure moves the event to dead letter.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	query := `
		UPDATE outbox_event
		SET retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= $2 THEN $3 ELSE $4 END,
			error_message = $5,
			next_retry_at = NOW() + LEAST(power(2, retry_count + 1), $6) * INTERVAL '1 second'
		WHERE id = $1`

	result, err := r.db.pool.Exec(ctx, query,
		id, MaxRetryCount, OutboxStatusDeadLetter, OutboxStatusFailed,
		processErr.Error(), maxRetryBackoff.Seconds())
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}

	return nil
}

// CountByStatus returns how many of this repository's events are in any
// of the given states.
func (r *OutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	query := `
		SELECT COUNT(*)
		FROM outbox_event
		WHERE aggregate_type = $1 AND status = ANY($2)`

	if err := r.db.pool.QueryRow(ctx, query, r.aggregateType, statuses).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// CountByRun returns the event count per status for one run.
func (r *OutboxRepository) CountByRun(ctx context.Context, runID string) (map[string]int64, error) {
	query := `
		SELECT status, COUNT(*)
		FROM outbox_event
		WHERE aggregate_type = $1 AND run_id = $2
		GROUP BY status`

	rows, err := r.db.pool.Query(ctx, query, r.aggregateType, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count run events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan run count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
