// Package transfer implements the funds-transfer engine: idempotent
// transaction creation, pessimistic per-account locking and exact decimal
// balance mutation inside one unit of work.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tadeleke/corebank/internal/domain"
	"github.com/tadeleke/corebank/internal/money"
)

// Tx is a unit of work spanning both account and ledger writes. Everything
// staged through it becomes visible to other transactions only on Commit;
// Rollback after Commit is a no-op.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the durable state the engine orchestrates. Lock-scoped methods
// (LockAccount, SetBalance, InsertPending, MarkCompleted) operate inside
// the given Tx; the rest read committed state only.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	AccountByID(ctx context.Context, id string) (*domain.Account, error)
	AccountByNumber(ctx context.Context, number string) (*domain.Account, error)

	// LockAccount acquires an exclusive, transaction-scoped lock on the
	// account row, blocking conflicting holders for a bounded wait before
	// failing with domain.ErrLockTimeout. The lock is released when the Tx
	// commits or rolls back.
	LockAccount(ctx context.Context, tx Tx, id string) (*domain.Account, error)

	// SetBalance writes a new balance for an account whose lock the Tx holds.
	SetBalance(ctx context.Context, tx Tx, id string, balance decimal.Decimal) error

	// TransferByKey returns the committed transfer recorded under the given
	// idempotency key, or (nil, nil) when none exists.
	TransferByKey(ctx context.Context, key string) (*domain.Transfer, error)

	// InsertPending appends a ledger row, failing with domain.ErrDuplicateKey
	// if the reference or idempotency key is already taken. The uniqueness
	// check here, not the TransferByKey pre-check, is what makes concurrent
	// duplicate submissions safe.
	InsertPending(ctx context.Context, tx Tx, rec *domain.Transfer) error
	MarkCompleted(ctx context.Context, tx Tx, id string) error

	TransfersForUser(ctx context.Context, userID string) ([]domain.HistoryEntry, error)
	AllTransfers(ctx context.Context) ([]domain.HistoryEntry, error)
}

// Request carries the caller-facing transfer parameters. The caller identity
// arrives separately, already authenticated upstream.
type Request struct {
	ReceiverAccountNumber string
	Amount                string
	Description           string
	IdempotencyKey        string
}

type Engine struct {
	store  Store
	logger *slog.Logger
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Transfer moves req.Amount from the caller's account to the account
// addressed by req.ReceiverAccountNumber, exactly once per client-supplied
// idempotency key. A request without a key gets a fresh random one, so
// only keys the client supplies are ever deduplicated.
func (e *Engine) Transfer(ctx context.Context, senderID string, req Request) (*domain.TransferResult, error) {
	amount, err := money.Parse(req.Amount)
	if err != nil || !money.IsPositive(amount) {
		return nil, domain.ErrInvalidAmount
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	// Replay check outside any lock. This is an optimization only; the
	// insert-time uniqueness constraint is the safety mechanism.
	if rec, err := e.store.TransferByKey(ctx, key); err != nil {
		return nil, err
	} else if rec != nil {
		e.logger.Info("transfer replayed", "idempotency_key", key, "reference", rec.Reference)
		return e.result(ctx, rec), nil
	}

	res, err := e.attempt(ctx, senderID, req, amount, key)
	if errors.Is(err, domain.ErrDuplicateKey) {
		// Lost the idempotency race to a concurrent identical request.
		// The winner holds the sender lock until it commits, so by the time
		// our insert was rejected its row is committed; return it.
		rec, ferr := e.store.TransferByKey(ctx, key)
		if ferr == nil && rec != nil {
			e.logger.Info("transfer deduplicated after insert race", "idempotency_key", key)
			return e.result(ctx, rec), nil
		}
		return nil, err
	}
	return res, err
}

func (e *Engine) attempt(ctx context.Context, senderID string, req Request, amount decimal.Decimal, key string) (*domain.TransferResult, error) {
	receiver, err := e.store.AccountByNumber(ctx, req.ReceiverAccountNumber)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrReceiverNotFound
		}
		return nil, err
	}
	if receiver.ID == senderID {
		return nil, domain.ErrSameAccount
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}
	defer tx.Rollback(ctx)

	// Accounts are never deleted, so resolving the receiver id before
	// locking is safe. Locks are taken in lexicographic id order regardless
	// of role, giving a total order that rules out deadlock between two
	// transfers over the same pair in opposite directions.
	firstID, secondID := senderID, receiver.ID
	if firstID > secondID {
		firstID, secondID = secondID, firstID
	}

	first, err := e.lock(ctx, tx, firstID, senderID)
	if err != nil {
		return nil, err
	}
	second, err := e.lock(ctx, tx, secondID, senderID)
	if err != nil {
		return nil, err
	}

	sender, recv := first, second
	if sender.ID != senderID {
		sender, recv = second, first
	}

	if money.Cmp(sender.Balance, amount) < 0 {
		return nil, domain.ErrInsufficientBalance
	}

	rec := &domain.Transfer{
		ID:             uuid.NewString(),
		SenderID:       sender.ID,
		ReceiverID:     recv.ID,
		Amount:         amount,
		Kind:           domain.KindTransfer,
		Status:         domain.StatusPending,
		Reference:      newReference("TRF"),
		IdempotencyKey: key,
		Description:    req.Description,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.InsertPending(ctx, tx, rec); err != nil {
		return nil, err
	}

	if err := e.store.SetBalance(ctx, tx, sender.ID, money.Sub(sender.Balance, amount)); err != nil {
		return nil, err
	}
	if err := e.store.SetBalance(ctx, tx, recv.ID, money.Add(recv.Balance, amount)); err != nil {
		return nil, err
	}

	if err := e.store.MarkCompleted(ctx, tx, rec.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit unit of work: %w", err)
	}
	rec.Status = domain.StatusCompleted

	e.logger.Info("transfer completed",
		"reference", rec.Reference,
		"sender_id", sender.ID,
		"receiver_id", recv.ID,
		"amount", amount.String(),
	)

	return &domain.TransferResult{
		ID:                    rec.ID,
		Amount:                rec.Amount.String(),
		Reference:             rec.Reference,
		ReceiverAccountNumber: receiver.AccountNumber,
		CreatedAt:             rec.CreatedAt,
		IdempotencyKey:        rec.IdempotencyKey,
		Status:                rec.Status,
	}, nil
}

func (e *Engine) lock(ctx context.Context, tx Tx, id, senderID string) (*domain.Account, error) {
	acc, err := e.store.LockAccount(ctx, tx, id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			if id == senderID {
				return nil, domain.ErrSenderNotFound
			}
			return nil, domain.ErrReceiverNotFound
		}
		return nil, err
	}
	return acc, nil
}

// Credit is the administrative top-up: it adds amount to the account with
// the given number and records a completed deposit row, all in one unit of
// work. Authorization happens at the caller.
func (e *Engine) Credit(ctx context.Context, accountNumber, amountStr string) (*domain.TransferResult, error) {
	amount, err := money.Parse(amountStr)
	if err != nil || !money.IsPositive(amount) {
		return nil, domain.ErrInvalidAmount
	}

	acc, err := e.store.AccountByNumber(ctx, accountNumber)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrReceiverNotFound
		}
		return nil, err
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, err := e.store.LockAccount(ctx, tx, acc.ID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrReceiverNotFound
		}
		return nil, err
	}

	rec := &domain.Transfer{
		ID:         uuid.NewString(),
		SenderID:   locked.ID,
		ReceiverID: locked.ID,
		Amount:     amount,
		Kind:       domain.KindDeposit,
		Status:     domain.StatusPending,
		Reference:  newReference("DEP"),
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.InsertPending(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := e.store.SetBalance(ctx, tx, locked.ID, money.Add(locked.Balance, amount)); err != nil {
		return nil, err
	}
	if err := e.store.MarkCompleted(ctx, tx, rec.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit unit of work: %w", err)
	}
	rec.Status = domain.StatusCompleted

	e.logger.Info("account credited", "account_number", accountNumber, "amount", amount.String())

	return &domain.TransferResult{
		ID:                    rec.ID,
		Amount:                rec.Amount.String(),
		Reference:             rec.Reference,
		ReceiverAccountNumber: locked.AccountNumber,
		CreatedAt:             rec.CreatedAt,
		Status:                rec.Status,
	}, nil
}

// History returns the committed transfers the user participated in, newest
// first, enriched with counterparty display fields.
func (e *Engine) History(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	return e.store.TransfersForUser(ctx, userID)
}

// ListAll returns the full committed ledger, newest first. The caller's
// authorization layer gates access to this.
func (e *Engine) ListAll(ctx context.Context) ([]domain.HistoryEntry, error) {
	return e.store.AllTransfers(ctx)
}

// result shapes a stored record into the same public view a fresh success
// produces, so replays are indistinguishable to the client.
func (e *Engine) result(ctx context.Context, rec *domain.Transfer) *domain.TransferResult {
	receiverNumber := ""
	if acc, err := e.store.AccountByID(ctx, rec.ReceiverID); err == nil {
		receiverNumber = acc.AccountNumber
	} else {
		e.logger.Warn("receiver lookup failed for replayed transfer",
			"transfer_id", rec.ID, "receiver_id", rec.ReceiverID, "error", err)
	}
	return &domain.TransferResult{
		ID:                    rec.ID,
		Amount:                rec.Amount.String(),
		Reference:             rec.Reference,
		ReceiverAccountNumber: receiverNumber,
		CreatedAt:             rec.CreatedAt,
		IdempotencyKey:        rec.IdempotencyKey,
		Status:                rec.Status,
	}
}

func newReference(prefix string) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, time.Now().UnixMilli(), rand.Intn(1_000_000))
}
