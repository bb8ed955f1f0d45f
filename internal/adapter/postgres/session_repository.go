package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/tablepulse/internal/domain"
)

// SessionRepo reads the web application's session table. Expiry is compared
// in whole seconds, the way the session middleware writes it.
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) GetActive(ctx context.Context, sid string, now time.Time) (*domain.SessionRecord, error) {
	const q = `SELECT sid, sess, expire FROM session WHERE sid = $1 AND expire >= to_timestamp($2)`

	var rec domain.SessionRecord
	var data []byte
	err := r.pool.QueryRow(ctx, q, sid, float64(now.Unix())).Scan(&rec.SID, &data, &rec.Expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	rec.Data = json.RawMessage(data)
	return &rec, nil
}

// Put upserts a session row. The stream never writes sessions; this serves
// seeding and tests.
func (r *SessionRepo) Put(ctx context.Context, sid string, data json.RawMessage, expires time.Time) error {
	const q = `
		INSERT INTO session (sid, sess, expire) VALUES ($1, $2, to_timestamp($3))
		ON CONFLICT (sid) DO UPDATE SET sess = EXCLUDED.sess, expire = EXCLUDED.expire`

	if _, err := r.pool.Exec(ctx, q, sid, string(data), float64(expires.Unix())); err != nil {
		return fmt.Errorf("failed to put session: %w", err)
	}
	return nil
}
