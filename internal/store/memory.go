package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tadeleke/corebank/internal/domain"
	"github.com/tadeleke/corebank/internal/transfer"
)

// Memory is an in-process Store with the same unit-of-work contract as the
// Postgres backend: per-account exclusive locks with a bounded wait, writes
// staged until commit, and insert-time uniqueness on reference and
// idempotency key. Used by the test suite and for local development.
type Memory struct {
	mu       sync.Mutex
	lockWait time.Duration

	users    map[string]*domain.User
	byEmail  map[string]string
	byNumber map[string]string

	transfers map[string]*domain.Transfer
	order     []string // committed transfer ids, oldest first

	// byKey and byRef hold both committed rows and uncommitted
	// reservations; a reservation rejects duplicate inserts exactly like
	// the database unique index would, and is dropped on rollback.
	byKey map[string]*uniqueSlot
	byRef map[string]*uniqueSlot

	locks map[string]chan struct{}
}

type uniqueSlot struct {
	id        string
	committed bool
}

func NewMemory(lockWait time.Duration) *Memory {
	return &Memory{
		lockWait:  lockWait,
		users:     make(map[string]*domain.User),
		byEmail:   make(map[string]string),
		byNumber:  make(map[string]string),
		transfers: make(map[string]*domain.Transfer),
		byKey:     make(map[string]*uniqueSlot),
		byRef:     make(map[string]*uniqueSlot),
		locks:     make(map[string]chan struct{}),
	}
}

type memTx struct {
	s        *Memory
	held     []string
	heldSet  map[string]bool
	balances map[string]decimal.Decimal
	pending  []*domain.Transfer
	done     bool
}

func (s *Memory) Begin(ctx context.Context) (transfer.Tx, error) {
	return &memTx{
		s:        s,
		heldSet:  make(map[string]bool),
		balances: make(map[string]decimal.Decimal),
	}, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("unit of work already finished")
	}
	t.s.mu.Lock()
	for id, b := range t.balances {
		if u, ok := t.s.users[id]; ok {
			u.Balance = b
		}
	}
	for _, rec := range t.pending {
		t.s.transfers[rec.ID] = rec
		t.s.order = append(t.s.order, rec.ID)
		if rec.IdempotencyKey != "" {
			t.s.byKey[rec.IdempotencyKey].committed = true
		}
		t.s.byRef[rec.Reference].committed = true
	}
	t.s.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.s.mu.Lock()
	for _, rec := range t.pending {
		if rec.IdempotencyKey != "" {
			delete(t.s.byKey, rec.IdempotencyKey)
		}
		delete(t.s.byRef, rec.Reference)
	}
	t.s.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.done = true
	t.s.mu.Lock()
	chans := make([]chan struct{}, 0, len(t.held))
	for _, id := range t.held {
		chans = append(chans, t.s.locks[id])
	}
	t.s.mu.Unlock()
	for _, ch := range chans {
		<-ch
	}
	t.held = nil
}

func (s *Memory) lockChan(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

func (s *Memory) LockAccount(ctx context.Context, tx transfer.Tx, id string) (*domain.Account, error) {
	t := tx.(*memTx)
	if !t.heldSet[id] {
		ch := s.lockChan(id)
		timer := time.NewTimer(s.lockWait)
		select {
		case ch <- struct{}{}:
			timer.Stop()
			t.heldSet[id] = true
			t.held = append(t.held, id)
		case <-timer.C:
			return nil, domain.ErrLockTimeout
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", domain.ErrLockTimeout, ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	bal := u.Balance
	if b, staged := t.balances[id]; staged {
		bal = b
	}
	return &domain.Account{ID: u.ID, AccountNumber: u.AccountNumber, Balance: bal}, nil
}

func (s *Memory) SetBalance(ctx context.Context, tx transfer.Tx, id string, balance decimal.Decimal) error {
	t := tx.(*memTx)
	if !t.heldSet[id] {
		return errors.New("balance write without holding the account lock")
	}
	s.mu.Lock()
	_, ok := s.users[id]
	s.mu.Unlock()
	if !ok {
		return domain.ErrAccountNotFound
	}
	t.balances[id] = balance
	return nil
}

func (s *Memory) InsertPending(ctx context.Context, tx transfer.Tx, rec *domain.Transfer) error {
	t := tx.(*memTx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.IdempotencyKey != "" {
		if _, taken := s.byKey[rec.IdempotencyKey]; taken {
			return domain.ErrDuplicateKey
		}
	}
	if _, taken := s.byRef[rec.Reference]; taken {
		return domain.ErrDuplicateKey
	}
	cp := *rec
	if rec.IdempotencyKey != "" {
		s.byKey[rec.IdempotencyKey] = &uniqueSlot{id: rec.ID}
	}
	s.byRef[rec.Reference] = &uniqueSlot{id: rec.ID}
	t.pending = append(t.pending, &cp)
	return nil
}

func (s *Memory) MarkCompleted(ctx context.Context, tx transfer.Tx, id string) error {
	t := tx.(*memTx)
	for _, rec := range t.pending {
		if rec.ID == id {
			rec.Status = domain.StatusCompleted
			return nil
		}
	}
	return errors.New("transfer not staged in this unit of work")
}

func (s *Memory) AccountByID(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &domain.Account{ID: u.ID, AccountNumber: u.AccountNumber, Balance: u.Balance}, nil
}

func (s *Memory) AccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byNumber[number]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	u := s.users[id]
	return &domain.Account{ID: u.ID, AccountNumber: u.AccountNumber, Balance: u.Balance}, nil
}

func (s *Memory) TransferByKey(ctx context.Context, key string) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.byKey[key]
	if !ok || !slot.committed {
		return nil, nil
	}
	cp := *s.transfers[slot.id]
	return &cp, nil
}

func (s *Memory) TransfersForUser(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.HistoryEntry
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.transfers[s.order[i]]
		if rec.SenderID != userID && rec.ReceiverID != userID {
			continue
		}
		out = append(out, s.enrich(rec))
	}
	return out, nil
}

func (s *Memory) AllTransfers(ctx context.Context) ([]domain.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.HistoryEntry
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.enrich(s.transfers[s.order[i]]))
	}
	return out, nil
}

func (s *Memory) enrich(rec *domain.Transfer) domain.HistoryEntry {
	e := domain.HistoryEntry{Transfer: *rec}
	if u, ok := s.users[rec.SenderID]; ok {
		e.SenderName = u.FirstName + " " + u.LastName
		e.SenderAccountNumber = u.AccountNumber
	}
	if u, ok := s.users[rec.ReceiverID]; ok {
		e.ReceiverName = u.FirstName + " " + u.LastName
		e.ReceiverAccountNumber = u.AccountNumber
	}
	return e
}

func (s *Memory) CreateUser(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[u.Email]; taken {
		return domain.ErrEmailTaken
	}
	if _, taken := s.byNumber[u.AccountNumber]; taken {
		return domain.ErrAccountNumberTaken
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	s.byNumber[u.AccountNumber] = u.ID
	return nil
}

func (s *Memory) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Memory) UserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}
