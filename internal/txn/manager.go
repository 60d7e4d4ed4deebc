package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"

	"github.com/rmskTV/advPlanner-sub000/internal/retry"
)

// TransactionError reports a unit of work that did not commit.
type TransactionError struct {
	Attempts int
	Err      error
}

func (e *TransactionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("transaction failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("transaction failed: %v", e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Beginner starts transactions; *pgxpool.Pool and pgx.Tx both satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Manager runs units of work inside database transactions.
type Manager struct {
	db     Beginner
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for rollback failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a transaction manager over db.
func NewManager(db Beginner, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunInTransaction executes fn once inside a transaction. It commits when fn
// returns nil and rolls back on error or panic.
func (m *Manager) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if m.db == nil {
		return &TransactionError{Attempts: 1, Err: errors.New("transaction manager not initialized")}
	}
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return &TransactionError{Attempts: 1, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}

	defer func() {
		if p := recover(); p != nil {
			if err := tx.Rollback(ctx); err != nil {
				m.logger.Error("failed to rollback transaction", "error", err)
			}
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return &TransactionError{Attempts: 1, Err: fmt.Errorf("%w (rollback error: %v)", err, rbErr)}
		}
		return &TransactionError{Attempts: 1, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &TransactionError{Attempts: 1, Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}
	return nil
}

// WithRetry applies policy to a unit of work, typically one RunInTransaction
// call so every attempt gets a fresh transaction. Errors marked with
// retry.Permanent and context cancellation stop immediately. Any failure is
// returned as a *TransactionError carrying the number of attempts made.
func WithRetry(ctx context.Context, policy retry.Policy, unit func(ctx context.Context) error) error {
	attempts := 0
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		attempts++
		err := unit(ctx)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return retry.Permanent(err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		err = exhausted.Err
	}
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		err = txErr.Err
	}
	return &TransactionError{Attempts: attempts, Err: err}
}

// SavepointError reports a failed savepoint statement. The surrounding
// transaction must be treated as broken.
type SavepointError struct {
	Name string
	Op   string
	Err  error
}

func (e *SavepointError) Error() string {
	return fmt.Sprintf("failed to %s savepoint %s: %v", e.Op, e.Name, e.Err)
}

func (e *SavepointError) Unwrap() error { return e.Err }

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func checkSavepoint(name string) error {
	if !savepointName.MatchString(name) {
		return &SavepointError{Name: name, Op: "validate", Err: errors.New("invalid savepoint name")}
	}
	return nil
}

// CreateSavepoint marks a point inside tx that can be rolled back to.
func CreateSavepoint(ctx context.Context, tx pgx.Tx, name string) error {
	if err := checkSavepoint(name); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return &SavepointError{Name: name, Op: "create", Err: err}
	}
	return nil
}

// RollbackToSavepoint discards everything done after the savepoint.
func RollbackToSavepoint(ctx context.Context, tx pgx.Tx, name string) error {
	if err := checkSavepoint(name); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return &SavepointError{Name: name, Op: "roll back to", Err: err}
	}
	return nil
}

// ReleaseSavepoint keeps the work done since the savepoint and forgets it.
func ReleaseSavepoint(ctx context.Context, tx pgx.Tx, name string) error {
	if err := checkSavepoint(name); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return &SavepointError{Name: name, Op: "release", Err: err}
	}
	return nil
}

// WithSavepoint runs fn between a savepoint and its release. When fn fails the
// savepoint is rolled back and fn's error returned; the transaction stays usable.
func WithSavepoint(ctx context.Context, tx pgx.Tx, name string, fn func(ctx context.Context) error) error {
	if err := CreateSavepoint(ctx, tx, name); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if rbErr := RollbackToSavepoint(ctx, tx, name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return ReleaseSavepoint(ctx, tx, name)
}
