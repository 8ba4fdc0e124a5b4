// Package store provides the durable backends of the transfer engine: a
// Postgres implementation for production and an in-memory implementation
// with the same unit-of-work semantics for tests and local development.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tadeleke/corebank/internal/domain"
	"github.com/tadeleke/corebank/internal/money"
	"github.com/tadeleke/corebank/internal/transfer"
)

const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

type Postgres struct {
	pool     *pgxpool.Pool
	lockWait time.Duration
}

// NewPostgres connects a pool and verifies it with a ping. lockWait bounds
// how long a unit of work may block on a row lock before failing with
// domain.ErrLockTimeout.
func NewPostgres(ctx context.Context, connString string, lockWait time.Duration) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping failed: %v", domain.ErrStoreUnavailable, err)
	}
	return &Postgres{pool: pool, lockWait: lockWait}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// Bootstrap creates the schema if it does not exist. The uniqueness
// constraints on account_number, reference and idempotency_key are load
// bearing: the engine's idempotency guarantee rests on the last one.
func (s *Postgres) Bootstrap(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'customer',
		account_number TEXT NOT NULL UNIQUE,
		balance NUMERIC(20,4) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS transfers (
		id UUID PRIMARY KEY,
		sender_id UUID NOT NULL REFERENCES users(id),
		receiver_id UUID NOT NULL REFERENCES users(id),
		amount NUMERIC(20,4) NOT NULL CHECK (amount > 0),
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		reference TEXT NOT NULL UNIQUE,
		idempotency_key TEXT UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS transfers_sender_idx ON transfers (sender_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS transfers_receiver_idx ON transfers (receiver_id, created_at DESC);`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (s *Postgres) Begin(ctx context.Context) (transfer.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("%w: begin failed: %v", domain.ErrStoreUnavailable, err)
	}
	// Bound every row-lock wait within this transaction.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait.Milliseconds())); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func unwrap(tx transfer.Tx) pgx.Tx {
	return tx.(*pgTx).tx
}

func (s *Postgres) AccountByID(ctx context.Context, id string) (*domain.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		"SELECT id, account_number, balance::text FROM users WHERE id = $1", id))
}

func (s *Postgres) AccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		"SELECT id, account_number, balance::text FROM users WHERE account_number = $1", number))
}

func (s *Postgres) LockAccount(ctx context.Context, tx transfer.Tx, id string) (*domain.Account, error) {
	return scanAccount(unwrap(tx).QueryRow(ctx,
		"SELECT id, account_number, balance::text FROM users WHERE id = $1 FOR UPDATE", id))
}

func (s *Postgres) SetBalance(ctx context.Context, tx transfer.Tx, id string, balance decimal.Decimal) error {
	tag, err := unwrap(tx).Exec(ctx,
		"UPDATE users SET balance = $1 WHERE id = $2", balance.String(), id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

const transferColumns = `id, sender_id, receiver_id, amount::text, kind, status,
	reference, COALESCE(idempotency_key, ''), description, created_at`

func (s *Postgres) TransferByKey(ctx context.Context, key string) (*domain.Transfer, error) {
	rec, err := scanTransfer(s.pool.QueryRow(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE idempotency_key = $1", key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *Postgres) InsertPending(ctx context.Context, tx transfer.Tx, rec *domain.Transfer) error {
	var key any
	if rec.IdempotencyKey != "" {
		key = rec.IdempotencyKey
	}
	_, err := unwrap(tx).Exec(ctx,
		`INSERT INTO transfers (id, sender_id, receiver_id, amount, kind, status, reference, idempotency_key, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.SenderID, rec.ReceiverID, rec.Amount.String(), rec.Kind,
		rec.Status, rec.Reference, key, rec.Description, rec.CreatedAt)
	return mapPgError(err)
}

func (s *Postgres) MarkCompleted(ctx context.Context, tx transfer.Tx, id string) error {
	_, err := unwrap(tx).Exec(ctx,
		"UPDATE transfers SET status = $1 WHERE id = $2", domain.StatusCompleted, id)
	return mapPgError(err)
}

const historyQuery = `
	SELECT t.id, t.sender_id, t.receiver_id, t.amount::text, t.kind, t.status,
	       t.reference, COALESCE(t.idempotency_key, ''), t.description, t.created_at,
	       s.first_name || ' ' || s.last_name, s.account_number,
	       r.first_name || ' ' || r.last_name, r.account_number
	FROM transfers t
	JOIN users s ON s.id = t.sender_id
	JOIN users r ON r.id = t.receiver_id`

func (s *Postgres) TransfersForUser(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		historyQuery+" WHERE t.sender_id = $1 OR t.receiver_id = $1 ORDER BY t.created_at DESC", userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectHistory(rows)
}

func (s *Postgres) AllTransfers(ctx context.Context) ([]domain.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, historyQuery+" ORDER BY t.created_at DESC")
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectHistory(rows)
}

func collectHistory(rows pgx.Rows) ([]domain.HistoryEntry, error) {
	defer rows.Close()
	var out []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var amount string
		if err := rows.Scan(&e.ID, &e.SenderID, &e.ReceiverID, &amount, &e.Kind, &e.Status,
			&e.Reference, &e.IdempotencyKey, &e.Description, &e.CreatedAt,
			&e.SenderName, &e.SenderAccountNumber,
			&e.ReceiverName, &e.ReceiverAccountNumber); err != nil {
			return nil, err
		}
		d, err := money.Parse(amount)
		if err != nil {
			return nil, err
		}
		e.Amount = d
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	var balance string
	if err := row.Scan(&acc.ID, &acc.AccountNumber, &balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, mapPgError(err)
	}
	d, err := money.Parse(balance)
	if err != nil {
		return nil, err
	}
	acc.Balance = d
	return &acc, nil
}

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var rec domain.Transfer
	var amount string
	if err := row.Scan(&rec.ID, &rec.SenderID, &rec.ReceiverID, &amount, &rec.Kind,
		&rec.Status, &rec.Reference, &rec.IdempotencyKey, &rec.Description, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, mapPgError(err)
	}
	d, err := money.Parse(amount)
	if err != nil {
		return nil, err
	}
	rec.Amount = d
	return &rec, nil
}

// mapPgError translates the SQLSTATEs the engine cares about into domain
// sentinels and leaves everything else wrapped.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return domain.ErrDuplicateKey
		case pgLockNotAvailable:
			return domain.ErrLockTimeout
		}
	}
	return fmt.Errorf("store: %w", err)
}
