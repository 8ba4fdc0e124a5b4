package transfer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tadeleke/corebank/internal/domain"
	"github.com/tadeleke/corebank/internal/money"
	"github.com/tadeleke/corebank/internal/store"
	"github.com/tadeleke/corebank/internal/transfer"
)

func newTestEngine(t *testing.T, lockWait time.Duration) (*transfer.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory(lockWait)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return transfer.NewEngine(mem, logger), mem
}

func newUser(t *testing.T, s *store.Memory, number, balance string) *domain.User {
	t.Helper()
	u := &domain.User{
		ID:            uuid.NewString(),
		Email:         number + "@example.com",
		PasswordHash:  "x",
		FirstName:     "User",
		LastName:      number,
		Role:          domain.RoleCustomer,
		AccountNumber: number,
		Balance:       money.MustParse(balance),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func balanceOf(t *testing.T, s *store.Memory, id string) decimal.Decimal {
	t.Helper()
	acc, err := s.AccountByID(context.Background(), id)
	if err != nil {
		t.Fatalf("AccountByID: %v", err)
	}
	return acc.Balance
}

func TestTransferMovesExactAmounts(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, time.Second)
	a := newUser(t, mem, "1000000001", "1000")
	b := newUser(t, mem, "1000000002", "0")

	res, err := eng.Transfer(ctx, a.ID, transfer.Request{
		ReceiverAccountNumber: b.AccountNumber,
		Amount:                "300",
		IdempotencyKey:        "k1",
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("status=%s, want completed", res.Status)
	}
	if res.Amount != "300" || res.ReceiverAccountNumber != b.AccountNumber {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Reference == "" || res.ID == "" {
		t.Fatalf("missing reference/id: %+v", res)
	}

	ba := balanceOf(t, mem, a.ID)
	bb := balanceOf(t, mem, b.ID)
	if ba.String() != "700" || bb.String() != "300" {
		t.Fatalf("balances a=%s b=%s, want 700/300", ba, bb)
	}
	if total := money.Add(ba, bb); total.String() != "1000" {
		t.Fatalf("funds not conserved: %s", total)
	}
}

func TestTransferDecimalExactness(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, time.Second)
	a := newUser(t, mem, "1000000001", "0.30")
	b := newUser(t, mem, "1000000002", "0")

	for i := 0; i < 3; i++ {
		if _, err := eng.Transfer(ctx, a.ID, transfer.Request{
			ReceiverAccountNumber: b.AccountNumber,
			Amount:                "0.10",
		}); err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
	}
	if ba := balanceOf(t, mem, a.ID); !ba.IsZero() {
		t.Fatalf("sender balance=%s, want exactly 0", ba)
	}
	if bb := balanceOf(t, mem, b.ID); bb.String() != "0.3" {
		t.Fatalf("receiver balance=%s, want 0.3", bb)
	}
}

func TestTransferIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, time.Second)
	a := newUser(t, mem, "1000000001", "1000")
	b := newUser(t, mem, "1000000002", "0")

	req := transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: "300", IdempotencyKey: "k1"}
	first, err := eng.Transfer(ctx, a.ID, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.Transfer(ctx, a.ID, req)
	if err != nil {
		t.Fatal(err)
	}

	if second.ID != first.ID || second.Reference != first.Reference {
		t.Fatalf("replay created a new record: %+v vs %+v", first, second)
	}
	if ba := balanceOf(t, mem, a.ID); ba.String() != "700" {
		t.Fatalf("second submission mutated balance: %s", ba)
	}
	history, err := eng.History(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("ledger has %d records, want 1", len(history))
	}
}

func TestTransferConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, 5*time.Second)
	a := newUser(t, mem, "1000000001", "1000")
	b := newUser(t, mem, "1000000002", "0")

	const n = 20
	req := transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: "300", IdempotencyKey: "k1"}

	results := make([]*domain.TransferResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = eng.Transfer(ctx, a.ID, req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("submission %d failed: %v", i, errs[i])
		}
		if results[i].ID != results[0].ID {
			t.Fatalf("submission %d got a different record: %s vs %s", i, results[i].ID, results[0].ID)
		}
	}
	if ba := balanceOf(t, mem, a.ID); ba.String() != "700" {
		t.Fatalf("balance mutated more than once: %s", ba)
	}
	history, _ := eng.History(ctx, a.ID)
	if len(history) != 1 {
		t.Fatalf("ledger has %d records, want exactly 1", len(history))
	}
}

func TestTransferWithoutKeyIsNotDeduplicated(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, time.Second)
	a := newUser(t, mem, "1000000001", "1000")
	b := newUser(t, mem, "1000000002", "0")

	req := transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: "100"}
	r1, err := eng.Transfer(ctx, a.ID, req)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := eng.Transfer(ctx, a.ID, req)
	if err != nil {
		t.Fatal(err)
	}
	if r1.ID == r2.ID {
		t.Fatal("two keyless submissions deduplicated against each other")
	}
	if ba := balanceOf(t, mem, a.ID); ba.String() != "800" {
		t.Fatalf("balance=%s, want 800", ba)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, time.Second)
	a := newUser(t, mem, "1000000001", "50")
	b := newUser(t, mem, "1000000002", "0")

	_, err := eng.Transfer(ctx, a.ID, transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: "300"})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
	if ba := balanceOf(t, mem, a.ID); ba.String() != "50" {
		t.Fatalf("failed transfer mutated sender: %s", ba)
	}
	if bb := balanceOf(t, mem, b.ID); !bb.IsZero() {
		t.Fatalf("failed transfer mutated receiver: %s", bb)
	}
	if history, _ := eng.History(ctx, a.ID); len(history) != 0 {
		t.Fatal("failed transfer left a ledger record")
	}
}

func TestTransferReceiverNotFound(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, time.Second)
	a := newUser(t, mem, "1000000001", "1000")

	_, err := eng.Transfer(ctx, a.ID, transfer.Request{ReceiverAccountNumber: "9999999999", Amount: "10"})
	if !errors.Is(err, domain.ErrReceiverNotFound) {
		t.Fatalf("want ErrReceiverNotFound, got %v", err)
	}
	if ba := balanceOf(t, mem, a.ID); ba.String() != "1000" {
		t.Fatalf("sender mutated: %s", ba)
	}

	// The sender lock must have been released by the rollback.
	tx, _ := mem.Begin(ctx)
	if _, err := mem.LockAccount(ctx, tx, a.ID); err != nil {
		t.Fatalf("sender still locked after rollback: %v", err)
	}
	tx.Rollback(ctx)
}

func TestTransferSenderNotFound(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, time.Second)
	b := newUser(t, mem, "1000000002", "0")

	_, err := eng.Transfer(ctx, uuid.NewString(), transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: "10"})
	if !errors.Is(err, domain.ErrSenderNotFound) {
		t.Fatalf("want ErrSenderNotFound, got %v", err)
	}
}

func TestTransferSelfRejected(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, time.Second)
	a := newUser(t, mem, "1000000001", "1000")

	_, err := eng.Transfer(ctx, a.ID, transfer.Request{ReceiverAccountNumber: a.AccountNumber, Amount: "10"})
	if !errors.Is(err, domain.ErrSameAccount) {
		t.Fatalf("want ErrSameAccount, got %v", err)
	}
	if ba := balanceOf(t, mem, a.ID); ba.String() != "1000" {
		t.Fatalf("self-transfer mutated balance: %s", ba)
	}
}

func TestTransferInvalidAmount(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, time.Second)
	a := newUser(t, mem, "1000000001", "1000")
	b := newUser(t, mem, "1000000002", "0")

	for _, amount := range []string{"", "abc", "0", "-5", "1.2.3"} {
		_, err := eng.Transfer(ctx, a.ID, transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: amount})
		if !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("amount %q: want ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestConcurrentOppositeDirections(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, 5*time.Second)
	a := newUser(t, mem, "1000000001", "1000")
	b := newUser(t, mem, "1000000002", "1000")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := eng.Transfer(ctx, a.ID, transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: "1"}); err != nil {
				t.Errorf("a->b: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := eng.Transfer(ctx, b.ID, transfer.Request{ReceiverAccountNumber: a.AccountNumber, Amount: "1"}); err != nil {
				t.Errorf("b->a: %v", err)
			}
		}()
	}
	wg.Wait()

	ba := balanceOf(t, mem, a.ID)
	bb := balanceOf(t, mem, b.ID)
	if total := money.Add(ba, bb); total.String() != "2000" {
		t.Fatalf("funds not conserved under contention: %s", total)
	}
	if ba.IsNegative() || bb.IsNegative() {
		t.Fatalf("negative balance: a=%s b=%s", ba, bb)
	}
}

func TestConcurrentDisjointPairs(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, 5*time.Second)
	a := newUser(t, mem, "1000000001", "500")
	b := newUser(t, mem, "1000000002", "0")
	c := newUser(t, mem, "1000000003", "500")
	d := newUser(t, mem, "1000000004", "0")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := eng.Transfer(ctx, a.ID, transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: "1"}); err != nil {
				t.Errorf("a->b: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := eng.Transfer(ctx, c.ID, transfer.Request{ReceiverAccountNumber: d.AccountNumber, Amount: "1"}); err != nil {
				t.Errorf("c->d: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := balanceOf(t, mem, b.ID); got.String() != "50" {
		t.Fatalf("b=%s, want 50", got)
	}
	if got := balanceOf(t, mem, d.ID); got.String() != "50" {
		t.Fatalf("d=%s, want 50", got)
	}
}

func TestConcurrentOverdraftPrevented(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, 5*time.Second)
	a := newUser(t, mem, "1000000001", "5")
	b := newUser(t, mem, "1000000002", "0")

	const n = 20
	var succeeded int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := eng.Transfer(ctx, a.ID, transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: "1"})
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, domain.ErrInsufficientBalance):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("%d transfers succeeded from a balance of 5, want 5", succeeded)
	}
	if ba := balanceOf(t, mem, a.ID); !ba.IsZero() {
		t.Fatalf("sender=%s, want 0", ba)
	}
	if bb := balanceOf(t, mem, b.ID); bb.String() != "5" {
		t.Fatalf("receiver=%s, want 5", bb)
	}
}

func TestTransferLockTimeoutIsRetryable(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, 50*time.Millisecond)
	a := newUser(t, mem, "1000000001", "1000")
	b := newUser(t, mem, "1000000002", "0")

	// Park a foreign unit of work on the sender's lock.
	blocker, _ := mem.Begin(ctx)
	if _, err := mem.LockAccount(ctx, blocker, a.ID); err != nil {
		t.Fatal(err)
	}

	_, err := eng.Transfer(ctx, a.ID, transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: "10", IdempotencyKey: "k-retry"})
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("want ErrLockTimeout, got %v", err)
	}
	blocker.Rollback(ctx)

	// Same key retries cleanly once the lock is free.
	res, err := eng.Transfer(ctx, a.ID, transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: "10", IdempotencyKey: "k-retry"})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("retry status=%s", res.Status)
	}
	if ba := balanceOf(t, mem, a.ID); ba.String() != "990" {
		t.Fatalf("balance=%s, want 990", ba)
	}
}

func TestCredit(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, time.Second)
	a := newUser(t, mem, "1000000001", "25.50")

	res, err := eng.Credit(ctx, a.AccountNumber, "100.25")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("status=%s", res.Status)
	}
	if ba := balanceOf(t, mem, a.ID); ba.String() != "125.75" {
		t.Fatalf("balance=%s, want 125.75", ba)
	}

	history, _ := eng.History(ctx, a.ID)
	if len(history) != 1 || history[0].Kind != domain.KindDeposit {
		t.Fatalf("deposit not recorded: %+v", history)
	}
}

func TestCreditUnknownAccount(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, time.Second)
	if _, err := eng.Credit(ctx, "9999999999", "10"); !errors.Is(err, domain.ErrReceiverNotFound) {
		t.Fatalf("want ErrReceiverNotFound, got %v", err)
	}
}

func TestReplayWithUnresolvableReceiver(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(time.Second)
	var logBuf strings.Builder
	eng := transfer.NewEngine(mem, slog.New(slog.NewTextHandler(&logBuf, nil)))
	a := newUser(t, mem, "1000000001", "1000")

	// A committed row whose receiver cannot be resolved anymore, as when the
	// lookup fails transiently on the database backend.
	rec := &domain.Transfer{
		ID:             uuid.NewString(),
		SenderID:       a.ID,
		ReceiverID:     uuid.NewString(),
		Amount:         money.MustParse("10"),
		Kind:           domain.KindTransfer,
		Status:         domain.StatusCompleted,
		Reference:      "TRF-test-replay",
		IdempotencyKey: "k-gone",
		CreatedAt:      time.Now().UTC(),
	}
	tx, err := mem.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.InsertPending(ctx, tx, rec); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := eng.Transfer(ctx, a.ID, transfer.Request{
		ReceiverAccountNumber: "whatever",
		Amount:                "10",
		IdempotencyKey:        "k-gone",
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.ID != rec.ID {
		t.Fatalf("replay returned a different record: %s", res.ID)
	}
	if res.ReceiverAccountNumber != "" {
		t.Fatalf("receiver number=%q, want empty", res.ReceiverAccountNumber)
	}
	if !strings.Contains(logBuf.String(), "receiver lookup failed") {
		t.Fatalf("lookup failure not logged: %s", logBuf.String())
	}
}

func TestHistoryOrderAndEnrichment(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t, time.Second)
	a := newUser(t, mem, "1000000001", "1000")
	b := newUser(t, mem, "1000000002", "1000")
	c := newUser(t, mem, "1000000003", "1000")

	r1, err := eng.Transfer(ctx, a.ID, transfer.Request{ReceiverAccountNumber: b.AccountNumber, Amount: "10"})
	if err != nil {
		t.Fatal(err)
	}
	r2, err := eng.Transfer(ctx, b.ID, transfer.Request{ReceiverAccountNumber: a.AccountNumber, Amount: "20"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Transfer(ctx, b.ID, transfer.Request{ReceiverAccountNumber: c.AccountNumber, Amount: "30"}); err != nil {
		t.Fatal(err)
	}

	history, err := eng.History(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	// a participated in the first two only, newest first.
	if len(history) != 2 {
		t.Fatalf("history len=%d, want 2", len(history))
	}
	if history[0].Reference != r2.Reference || history[1].Reference != r1.Reference {
		t.Fatalf("history out of order: %+v", history)
	}
	if history[1].ReceiverName != "User 1000000002" || history[1].ReceiverAccountNumber != b.AccountNumber {
		t.Fatalf("counterparty fields missing: %+v", history[1])
	}

	all, err := eng.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("full ledger len=%d, want 3", len(all))
	}
}
