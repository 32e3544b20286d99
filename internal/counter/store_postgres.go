package counter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the counters singleton table. The CHECK pins the table to a
// single row.
const Schema = `
CREATE TABLE IF NOT EXISTS counters (
	id INT PRIMARY KEY CHECK (id = 1),
	doc JSONB NOT NULL
);
`

// maxTxAttempts bounds serialization-conflict retries before the operation
// is surfaced as an internal error.
const maxTxAttempts = 5

// PostgresStore persists the counters singleton with serializable
// transactions. Concurrent Mutate calls conflict at commit; the loser is
// retried with fresh state, so read-modify-write sequences never interleave.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs the pgx-backed counter store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema applies the counters schema; safe to run repeatedly.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply counters schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Mutate(ctx context.Context, fn func(c *Counters) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable},
			func(tx pgx.Tx) error {
				counters, err := loadTx(ctx, tx)
				if err != nil {
					return err
				}
				if err := fn(counters); err != nil {
					return err
				}
				return saveTx(ctx, tx, counters)
			})
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("counter transaction: retries exhausted: %w", lastErr)
}

func (s *PostgresStore) Get(ctx context.Context) (*Counters, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM counters WHERE id = 1`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return NewCounters(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}
	return decode(payload)
}

func loadTx(ctx context.Context, tx pgx.Tx) (*Counters, error) {
	var payload []byte
	err := tx.QueryRow(ctx, `SELECT doc FROM counters WHERE id = 1`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return NewCounters(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}
	return decode(payload)
}

func saveTx(ctx context.Context, tx pgx.Tx, c *Counters) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO counters (id, doc) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`, payload)
	if err != nil {
		return fmt.Errorf("save counters: %w", err)
	}
	return nil
}

func decode(payload []byte) (*Counters, error) {
	c := NewCounters()
	if err := json.Unmarshal(payload, c); err != nil {
		return nil, fmt.Errorf("decode counters: %w", err)
	}
	if c.MemberIDCounters == nil {
		c.MemberIDCounters = make(map[string]int)
	}
	return c, nil
}

// isSerializationFailure recognizes the SQLSTATEs Postgres raises when
// serializable transactions conflict (40001) or deadlock (40P01).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
