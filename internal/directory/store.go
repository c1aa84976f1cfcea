package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a recipient id has no directory entry.
var ErrNotFound = errors.New("recipient not found")

// Store reads and updates the recipient directory in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a directory store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const recipientColumns = `id, email, name_en, name_local, role, email_subscribed, unsubscribed_at, is_active`

// Select resolves the candidate recipients for a filter kind. Only active
// rows are ever candidates. Row order carries no meaning; callers must not
// depend on it.
func (s *Store) Select(ctx context.Context, kind FilterKind, customEmails []string) ([]Recipient, error) {
	var (
		query string
		args  []any
	)
	switch kind {
	case FilterAdmins:
		query = `SELECT ` + recipientColumns + ` FROM recipients WHERE is_active AND role = $1`
		args = []any{RoleAdmin}
	case FilterMentors, FilterAll:
		// Admins hold mentor profiles too, so "mentors" and "all" resolve to
		// the same set at the data layer.
		query = `SELECT ` + recipientColumns + ` FROM recipients WHERE is_active`
	case FilterCustom:
		if len(customEmails) == 0 {
			return []Recipient{}, nil
		}
		query = `SELECT ` + recipientColumns + ` FROM recipients WHERE is_active AND email = ANY($1)`
		args = []any{customEmails}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, kind)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select recipients: %w", err)
	}
	defer rows.Close()

	return scanRecipients(rows)
}

// GetByID returns one recipient, active or not.
func (s *Store) GetByID(ctx context.Context, id string) (*Recipient, error) {
	r := &Recipient{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE id = $1`, id,
	).Scan(&r.ID, &r.Email, &r.NameEN, &r.NameLocal, &r.Role, &r.EmailSubscribed, &r.UnsubscribedAt, &r.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return r, nil
}

// List returns a page of active recipients plus the total active count, for
// the admin directory view.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Recipient, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recipients WHERE is_active`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recipients: %w", err)
	}

	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE is_active ORDER BY email`
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
		return nil, 0, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	recipients, err := scanRecipients(rows)
	if err != nil {
		return nil, 0, err
	}
	return recipients, total, nil
}

// Unsubscribe flips the subscription flag off and stamps the unsubscribe
// time. The flag and timestamp always change together; resubscription is not
// handled here.
func (s *Store) Unsubscribe(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recipients SET email_subscribed = FALSE, unsubscribed_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("unsubscribe recipient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecipients(rows pgx.Rows) ([]Recipient, error) {
	recipients := []Recipient{}
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.Email, &r.NameEN, &r.NameLocal, &r.Role, &r.EmailSubscribed, &r.UnsubscribedAt, &r.IsActive); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}
