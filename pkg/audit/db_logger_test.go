package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*DBLogger, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	return logger, mock
}

func TestDBLogger_Log(t *testing.T) {
	logger, mock := newTestLogger(t)

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs("key.created", "admin-1", "key-abc", "203.0.113.9", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	entry := &Entry{
		Action:   ActionKeyCreated,
		ActorID:  "admin-1",
		TargetID: "key-abc",
		ClientIP: "203.0.113.9",
		Detail:   json.RawMessage(`{"tier":"standard"}`),
	}
	err := logger.Log(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, int64(42), entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Log_NilDetail(t *testing.T) {
	logger, mock := newTestLogger(t)

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs("key.revoked", "", "key-abc", "", nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	err := logger.Log(context.Background(), &Entry{
		Action:   ActionKeyRevoked,
		TargetID: "key-abc",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_List(t *testing.T) {
	logger, mock := newTestLogger(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "action", "actor_id", "target_id", "client_ip", "detail", "created_at"}).
		AddRow(int64(2), "key.rotated", "admin-1", "key-abc", "203.0.113.9", []byte(`{"preserve_id":true}`), now).
		AddRow(int64(1), "key.created", nil, "key-abc", nil, nil, now.Add(-time.Minute))

	mock.ExpectQuery("SELECT id, action, actor_id, target_id, client_ip, detail, created_at").
		WithArgs("", 50).
		WillReturnRows(rows)

	entries, err := logger.List(context.Background(), "", 50)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionKeyRotated, entries[0].Action)
	assert.Equal(t, "admin-1", entries[0].ActorID)
	assert.Equal(t, ActionKeyCreated, entries[1].Action)
	assert.Empty(t, entries[1].ActorID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_List_FilterByAction(t *testing.T) {
	logger, mock := newTestLogger(t)

	mock.ExpectQuery("SELECT id, action, actor_id, target_id, client_ip, detail, created_at").
		WithArgs("delivery.requeued", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action", "actor_id", "target_id", "client_ip", "detail", "created_at"}))

	entries, err := logger.List(context.Background(), ActionDeliveryRequeued, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}
