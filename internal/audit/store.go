// internal/audit/store.go
package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/vantor-labs/concierge/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store writes audit entries to Postgres. One row per side-effecting tool
// invocation.
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
		log:  logger.Named("audit_store"),
	}, nil
}

const insertEntrySQL = `
    INSERT INTO audit_entries (turn_id, customer_id, tool, target, succeeded, occurred_at)
    VALUES ($1, $2, $3, $4, $5, $6);
`

// Insert persists one audit entry.
func (s *Store) Insert(ctx context.Context, e schemas.AuditEntry) error {
	_, err := s.pool.Exec(ctx, insertEntrySQL,
		e.TurnID, e.CustomerID, e.Tool, e.Target, e.Succeeded, e.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// EntriesForTurn returns the entries of one turn in the order they happened.
func (s *Store) EntriesForTurn(ctx context.Context, turnID string) ([]schemas.AuditEntry, error) {
	query := `
        SELECT turn_id, customer_id, tool, target, succeeded, occurred_at
        FROM audit_entries
        WHERE turn_id = $1
        ORDER BY occurred_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []schemas.AuditEntry
	for rows.Next() {
		var e schemas.AuditEntry
		if err := rows.Scan(&e.TurnID, &e.CustomerID, &e.Tool, &e.Target, &e.Succeeded, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}
