package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tadeleke/corebank/internal/domain"
	"github.com/tadeleke/corebank/internal/money"
)

const userColumns = `id, email, password_hash, first_name, last_name, role,
	account_number, balance::text, created_at`

// CreateUser inserts a new account holder. Unique violations on email and
// account_number come back as the matching domain sentinel so signup can
// retry number generation without parsing SQLSTATEs itself.
func (s *Postgres) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, last_name, role, account_number, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role,
		u.AccountNumber, u.Balance.String(), u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			if strings.Contains(pgErr.ConstraintName, "account_number") {
				return domain.ErrAccountNumberTaken
			}
			return domain.ErrEmailTaken
		}
		return mapPgError(err)
	}
	return nil
}

func (s *Postgres) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", email))
}

func (s *Postgres) UserByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var balance string
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Role, &u.AccountNumber, &balance, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, mapPgError(err)
	}
	d, err := money.Parse(balance)
	if err != nil {
		return nil, err
	}
	u.Balance = d
	return &u, nil
}
