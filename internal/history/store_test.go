// internal/history/store_test.go
package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vantor-labs/concierge/api/schemas"
)

type anyTime struct{}

func (anyTime) Match(v interface{}) bool {
	_, ok := v.(time.Time)
	return ok
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	store, err := New(context.Background(), mock, zaptest.NewLogger(t))
	require.NoError(t, err)
	return store, mock
}

func TestLoadProfile(t *testing.T) {
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"id", "display_name", "preference_document"}).
		AddRow("cust-1", "Dana", "Prefers window seats. Vegetarian.")
	mock.ExpectQuery("SELECT (.+) FROM customers").
		WithArgs("cust-1").
		WillReturnRows(rows)

	p, err := store.LoadProfile(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "Dana", p.DisplayName)
	assert.Contains(t, p.PreferenceDocument, "Vegetarian")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadProfileNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM customers").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.LoadProfile(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrProfileNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadHistoryReversesToChronological(t *testing.T) {
	store, mock := newMockStore(t)

	// The query returns most-recent-first.
	rows := pgxmock.NewRows([]string{"user_text", "reply_text"}).
		AddRow("second question", "second answer").
		AddRow("first question", "first answer")
	mock.ExpectQuery("SELECT (.+) FROM turns").
		WithArgs("cust-1", 10).
		WillReturnRows(rows)

	msgs, err := store.LoadHistory(context.Background(), "cust-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	// Oldest exchange first, user before assistant within a turn.
	assert.Equal(t, schemas.RoleUser, msgs[0].Role)
	assert.Equal(t, "first question", msgs[0].JoinedText())
	assert.Equal(t, "first answer", msgs[1].JoinedText())
	assert.Equal(t, "second question", msgs[2].JoinedText())
	assert.Equal(t, "second answer", msgs[3].JoinedText())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadHistoryEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM turns").
		WithArgs("cust-1", 10).
		WillReturnRows(pgxmock.NewRows([]string{"user_text", "reply_text"}))

	msgs, err := store.LoadHistory(context.Background(), "cust-1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSaveTurn(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO turns").
		WithArgs("cust-1", "book a table", "Done, asked for confirmation.",
			pgxmock.AnyArg(), anyTime{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.SaveTurn(context.Background(), &schemas.TurnRecord{
		CustomerID: "cust-1",
		UserText:   "book a table",
		ReplyText:  "Done, asked for confirmation.",
		Invocations: []schemas.ToolInvocation{
			{Name: "browser", Target: "https://example.com/book", Succeeded: true},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTurnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO turns").
		WithArgs("cust-1", "hi", "hello", pgxmock.AnyArg(), anyTime{}).
		WillReturnError(errors.New("disk full"))

	err := store.SaveTurn(context.Background(), &schemas.TurnRecord{
		CustomerID: "cust-1", UserText: "hi", ReplyText: "hello",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert turn")
}
