package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no member is registered under a phone number.
var ErrNotFound = errors.New("user not found")

// Repository persists loyalty members keyed by phone number.
type Repository interface {
	FindByPhone(ctx context.Context, phone string) (User, error)
	// Upsert merges user into the existing record with the same phone, or inserts it.
	Upsert(ctx context.Context, user User) (User, error)
	// Credit atomically adds points and appends txID to the member's history.
	Credit(ctx context.Context, phone string, points int64, txID string) (User, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS reward_users (
    phone        TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    account_id   TEXT NOT NULL UNIQUE,
    points       BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
    transactions TEXT[] NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
)`

const userColumns = `phone, name, account_id, points, transactions, created_at, updated_at`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed member repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the members table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create reward_users: %w", err)
	}
	return nil
}

// FindByPhone fetches a member by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM reward_users WHERE phone = $1`, phone)
	return scanUser(row)
}

// Upsert inserts the member or merges the provided non-empty fields into the stored row.
func (r *PostgresRepository) Upsert(ctx context.Context, user User) (User, error) {
	now := time.Now().UTC()
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	var txs []string
	if user.Transactions != nil {
		txs = user.Transactions
	}
	row := r.db.QueryRow(ctx, `
        INSERT INTO reward_users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, COALESCE($5::TEXT[], '{}'), $6, $7)
        ON CONFLICT (phone) DO UPDATE SET
            name         = COALESCE(NULLIF(EXCLUDED.name, ''), reward_users.name),
            account_id   = COALESCE(NULLIF(EXCLUDED.account_id, ''), reward_users.account_id),
            points       = CASE WHEN $4 <> 0 THEN EXCLUDED.points ELSE reward_users.points END,
            transactions = COALESCE($5::TEXT[], reward_users.transactions),
            updated_at   = EXCLUDED.updated_at
        RETURNING `+userColumns,
		user.Phone, user.Name, user.AccountID, user.Points, txs, createdAt.UTC(), now)
	return scanUser(row)
}

// Credit adds points and appends the transaction id in a single statement.
func (r *PostgresRepository) Credit(ctx context.Context, phone string, points int64, txID string) (User, error) {
	row := r.db.QueryRow(ctx, `
        UPDATE reward_users
        SET points = points + $2,
            transactions = array_append(transactions, $3),
            updated_at = $4
        WHERE phone = $1
        RETURNING `+userColumns,
		phone, points, txID, time.Now().UTC())
	return scanUser(row)
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user      User
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&user.Phone, &user.Name, &user.AccountID, &user.Points, &user.Transactions, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	user.CreatedAt = createdAt.UTC()
	user.UpdatedAt = updatedAt.UTC()
	return user, nil
}
