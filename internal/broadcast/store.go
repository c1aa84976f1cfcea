package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a log entry id has no record.
var ErrNotFound = errors.New("broadcast log entry not found")

// Store persists broadcast log entries in Postgres. Counter updates are
// single SQL increments so concurrent webhook deliveries never lose counts
// to a read-modify-write race.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a broadcast log store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const logColumns = `id, subject, body, preview, filter_kind, recipient_emails, recipient_count,
	provider_id, status, open_count, click_count, last_error, created_at`

// Create inserts a new log entry, assigning its id and creation time.
func (s *Store) Create(ctx context.Context, e *LogEntry) error {
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO broadcast_logs (id, subject, body, preview, filter_kind, recipient_emails,
			recipient_count, status, open_count, click_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, $9)`,
		e.ID, e.Subject, e.Body, e.Preview, e.FilterKind, e.RecipientEmails,
		e.RecipientCount, e.Status, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create broadcast log: %w", err)
	}
	return nil
}

// MarkSent records a completed dispatch: status sent plus the provider
// correlation id from the last chunk.
func (s *Store) MarkSent(ctx context.Context, id, providerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE broadcast_logs SET status = $2, provider_id = $3 WHERE id = $1`,
		id, StatusSent, providerID)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records an aborted dispatch with the provider's error.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE broadcast_logs SET status = $2, last_error = $3 WHERE id = $1`,
		id, StatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSentByProvider applies a provider "sent" event. It only moves a
// pending entry forward; it never rewinds delivered or bounced.
func (s *Store) MarkSentByProvider(ctx context.Context, providerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE broadcast_logs SET status = $2 WHERE provider_id = $1 AND status IN ($3, $2)`,
		providerID, StatusSent, StatusPending)
	if err != nil {
		return false, fmt.Errorf("apply sent event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkDelivered applies a provider "delivered" event. A bounced entry stays
// bounced.
func (s *Store) MarkDelivered(ctx context.Context, providerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE broadcast_logs SET status = $2 WHERE provider_id = $1 AND status <> $3`,
		providerID, StatusDelivered, StatusBounced)
	if err != nil {
		return false, fmt.Errorf("apply delivered event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkBounced applies a provider "bounced" event with its reason.
func (s *Store) MarkBounced(ctx context.Context, providerID, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE broadcast_logs SET status = $2, last_error = $3 WHERE provider_id = $1`,
		providerID, StatusBounced, reason)
	if err != nil {
		return false, fmt.Errorf("apply bounced event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementOpens adds one open. The increment happens in SQL, atomically
// against concurrent events for the same entry.
func (s *Store) IncrementOpens(ctx context.Context, providerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE broadcast_logs SET open_count = open_count + 1 WHERE provider_id = $1`,
		providerID)
	if err != nil {
		return false, fmt.Errorf("increment opens: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementClicks adds one click, atomically.
func (s *Store) IncrementClicks(ctx context.Context, providerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE broadcast_logs SET click_count = click_count + 1 WHERE provider_id = $1`,
		providerID)
	if err != nil {
		return false, fmt.Errorf("increment clicks: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID returns one log entry.
func (s *Store) GetByID(ctx context.Context, id string) (*LogEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+logColumns+` FROM broadcast_logs WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get broadcast log: %w", err)
	}
	return e, nil
}

// List returns a page of log entries, newest first, plus the total count for
// the history view.
func (s *Store) List(ctx context.Context, limit, offset int) ([]LogEntry, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM broadcast_logs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count broadcast logs: %w", err)
	}

	query := `SELECT ` + logColumns + ` FROM broadcast_logs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list broadcast logs: %w", err)
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan broadcast log: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, total, rows.Err()
}

func scanEntry(row pgx.Row) (*LogEntry, error) {
	e := &LogEntry{}
	var providerID, lastError *string
	err := row.Scan(&e.ID, &e.Subject, &e.Body, &e.Preview, &e.FilterKind,
		&e.RecipientEmails, &e.RecipientCount, &providerID, &e.Status,
		&e.OpenCount, &e.ClickCount, &lastError, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if providerID != nil {
		e.ProviderID = *providerID
	}
	if lastError != nil {
		e.LastError = *lastError
	}
	return e, nil
}
