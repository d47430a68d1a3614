// Package postgres реализует документное хранилище на основе PostgreSQL.
// Транзакции выполняются с уровнем изоляции SERIALIZABLE и повторяются
// при ошибках сериализации и взаимной блокировки.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/hermes-ledger/internal/storage"
)

const retryBackoff = 20 * time.Millisecond

// Storage инкапсулирует соединение с PostgreSQL и реализует storage.Store.
type Storage struct {
	DB *sql.DB

	maxAttempts int
	onRetry     func(attempt int)
}

// Option настройка хранилища.
type Option func(*Storage)

// WithMaxAttempts задаёт число попыток транзакции.
func WithMaxAttempts(n int) Option {
	return func(s *Storage) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryHook вызывается перед каждым повтором транзакции.
func WithRetryHook(fn func(attempt int)) Option {
	return func(s *Storage) {
		s.onRetry = fn
	}
}

// WithMaxConns ограничивает пул соединений.
func WithMaxConns(n int32) Option {
	return func(s *Storage) {
		if n > 0 {
			s.DB.SetMaxOpenConns(int(n))
			s.DB.SetMaxIdleConns(int(n))
		}
	}
}

// New создаёт подключение к PostgreSQL и проверяет его.
func New(ctx context.Context, dsn string, opts ...Option) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Storage{DB: db, maxAttempts: 5}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// Ping проверяет доступность базы.
func (s *Storage) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// RunInTx выполняет fn в сериализуемой транзакции и повторяет её при конфликте.
func (s *Storage) RunInTx(ctx context.Context, fn storage.TxFunc) error {
	const op = "storage.postgres.RunInTx"

	for attempt := 1; ; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt >= s.maxAttempts {
			return fmt.Errorf("%s: %w: %v", op, storage.ErrTxRetriesExhausted, err)
		}
		if s.onRetry != nil {
			s.onRetry(attempt)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
}

func (s *Storage) runOnce(ctx context.Context, fn storage.TxFunc) (err error) {
	sqlTx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &pgTx{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}

// querier общий интерфейс *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
