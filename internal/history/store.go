// internal/history/store.go
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vantor-labs/concierge/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the durable context boundary: customer profiles and conversation
// history in Postgres. It implements schemas.ProfileStore and
// schemas.HistoryStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("history_store"),
	}, nil
}

// ErrProfileNotFound is returned when the customer does not exist.
var ErrProfileNotFound = errors.New("customer profile not found")

// LoadProfile fetches the stable per-customer context.
func (s *Store) LoadProfile(ctx context.Context, customerID string) (*schemas.CustomerProfile, error) {
	query := `
        SELECT id, display_name, preference_document
        FROM customers
        WHERE id = $1;
    `
	var p schemas.CustomerProfile
	err := s.pool.QueryRow(ctx, query, customerID).Scan(&p.ID, &p.DisplayName, &p.PreferenceDocument)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &p, nil
}

// LoadHistory returns up to limit prior turns as chronological messages. The
// backing query reads most-recent-first to use the index; the result is
// reversed before turning rows into message pairs so the model sees the
// conversation in order.
func (s *Store) LoadHistory(ctx context.Context, customerID string, limit int) ([]schemas.Message, error) {
	query := `
        SELECT user_text, reply_text
        FROM turns
        WHERE customer_id = $1
        ORDER BY created_at DESC
        LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	type turn struct {
		userText  string
		replyText string
	}
	var recent []turn
	for rows.Next() {
		var t turn
		if err := rows.Scan(&t.userText, &t.replyText); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		recent = append(recent, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	msgs := make([]schemas.Message, 0, len(recent)*2)
	for i := len(recent) - 1; i >= 0; i-- {
		msgs = append(msgs, schemas.UserText(recent[i].userText))
		msgs = append(msgs, schemas.AssistantText(recent[i].replyText))
	}
	return msgs, nil
}

// SaveTurn appends one completed exchange. Invocations are stored as a JSONB
// document alongside the texts.
func (s *Store) SaveTurn(ctx context.Context, rec *schemas.TurnRecord) error {
	invocations, err := json.Marshal(rec.Invocations)
	if err != nil {
		return fmt.Errorf("failed to serialize invocations: %w", err)
	}

	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	query := `
        INSERT INTO turns (customer_id, user_text, reply_text, invocations, created_at)
        VALUES ($1, $2, $3, $4, $5);
    `
	if _, err := s.pool.Exec(ctx, query,
		rec.CustomerID, rec.UserText, rec.ReplyText, invocations, at.UTC()); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}
