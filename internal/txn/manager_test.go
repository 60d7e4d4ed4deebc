package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmskTV/advPlanner-sub000/internal/retry"
)

type fakeTx struct {
	pgx.Tx
	statements  []string
	failOn      map[string]error
	committed   bool
	rolledBack  bool
	commitError error
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.statements = append(f.statements, sql)
	if err, ok := f.failOn[sql]; ok {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag(sql), nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return f.commitError
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	txs      []*fakeTx
	beginErr error
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	tx := &fakeTx{failOn: map[string]error{}}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRunInTransactionCommits(t *testing.T) {
	db := &fakeBeginner{}
	m := NewManager(db)

	err := m.RunInTransaction(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "INSERT 1")
		return err
	})
	require.NoError(t, err)
	require.Len(t, db.txs, 1)
	assert.True(t, db.txs[0].committed)
	assert.False(t, db.txs[0].rolledBack)
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	db := &fakeBeginner{}
	m := NewManager(db)
	cause := errors.New("mapping failed")

	err := m.RunInTransaction(context.Background(), func(context.Context, pgx.Tx) error {
		return cause
	})

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, 1, txErr.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.True(t, db.txs[0].rolledBack)
	assert.False(t, db.txs[0].committed)
}

func TestRunInTransactionRollsBackOnPanic(t *testing.T) {
	db := &fakeBeginner{}
	m := NewManager(db)

	assert.Panics(t, func() {
		_ = m.RunInTransaction(context.Background(), func(context.Context, pgx.Tx) error {
			panic("boom")
		})
	})
	assert.True(t, db.txs[0].rolledBack)
}

func TestRunInTransactionReportsBeginFailure(t *testing.T) {
	m := NewManager(&fakeBeginner{beginErr: errors.New("pool closed")})

	err := m.RunInTransaction(context.Background(), func(context.Context, pgx.Tx) error { return nil })

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Contains(t, err.Error(), "pool closed")
}

func TestWithRetryUsesFreshTransactions(t *testing.T) {
	db := &fakeBeginner{}
	m := NewManager(db)
	policy := retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, Sleep: noSleep}

	calls := 0
	err := WithRetry(context.Background(), policy, func(ctx context.Context) error {
		return m.RunInTransaction(ctx, func(context.Context, pgx.Tx) error {
			calls++
			if calls < 3 {
				return errors.New("could not serialize access")
			}
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, db.txs, 3)
	assert.True(t, db.txs[0].rolledBack)
	assert.True(t, db.txs[2].committed)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	db := &fakeBeginner{}
	m := NewManager(db)
	last := errors.New("deadlock detected")

	err := WithRetry(context.Background(), retry.Policy{MaxAttempts: 3, Sleep: noSleep}, func(ctx context.Context) error {
		return m.RunInTransaction(ctx, func(context.Context, pgx.Tx) error {
			return last
		})
	})

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, 3, txErr.Attempts)
	assert.ErrorIs(t, err, last)
	assert.Len(t, db.txs, 3)
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	cause := errors.New("malformed file")

	err := WithRetry(context.Background(), retry.Policy{MaxAttempts: 5, Sleep: noSleep}, func(context.Context) error {
		calls++
		return retry.Permanent(cause)
	})

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, txErr.Attempts)
	assert.ErrorIs(t, err, cause)
}

func TestWithSavepoint(t *testing.T) {
	ctx := context.Background()

	t.Run("released on success", func(t *testing.T) {
		tx := &fakeTx{failOn: map[string]error{}}
		require.NoError(t, WithSavepoint(ctx, tx, "object_1", func(context.Context) error { return nil }))
		assert.Equal(t, []string{"SAVEPOINT object_1", "RELEASE SAVEPOINT object_1"}, tx.statements)
	})

	t.Run("rolled back on failure", func(t *testing.T) {
		tx := &fakeTx{failOn: map[string]error{}}
		cause := errors.New("unique violation")
		err := WithSavepoint(ctx, tx, "object_2", func(context.Context) error { return cause })
		assert.ErrorIs(t, err, cause)
		var spErr *SavepointError
		assert.False(t, errors.As(err, &spErr))
		assert.Equal(t, []string{"SAVEPOINT object_2", "ROLLBACK TO SAVEPOINT object_2"}, tx.statements)
	})

	t.Run("broken rollback is a savepoint error", func(t *testing.T) {
		tx := &fakeTx{failOn: map[string]error{"ROLLBACK TO SAVEPOINT object_3": errors.New("conn lost")}}
		err := WithSavepoint(ctx, tx, "object_3", func(context.Context) error { return errors.New("x") })
		var spErr *SavepointError
		require.ErrorAs(t, err, &spErr)
		assert.Equal(t, "roll back to", spErr.Op)
	})

	t.Run("invalid name", func(t *testing.T) {
		tx := &fakeTx{failOn: map[string]error{}}
		err := WithSavepoint(ctx, tx, "x; DROP TABLE", func(context.Context) error { return nil })
		var spErr *SavepointError
		require.ErrorAs(t, err, &spErr)
		assert.Empty(t, tx.statements)
	})
}
