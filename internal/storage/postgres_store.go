package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-session/internal/models"
)

const schema = `CREATE TABLE IF NOT EXISTS matching_transitions (
	id              BIGSERIAL PRIMARY KEY,
	session_key     TEXT        NOT NULL,
	ride_request_id BIGINT,
	role            TEXT        NOT NULL,
	from_status     TEXT        NOT NULL,
	to_status       TEXT        NOT NULL,
	event           TEXT        NOT NULL,
	points          INTEGER     NOT NULL DEFAULT 0,
	at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS matching_transitions_session_idx ON matching_transitions (session_key, at);`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the transitions table if it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) SaveTransition(ctx context.Context, t models.Transition) error {
	var rideID sql.NullInt64
	if t.RideRequestID > 0 {
		rideID = sql.NullInt64{Int64: t.RideRequestID, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO matching_transitions(session_key, ride_request_id, role, from_status, to_status, event, points, at) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.SessionKey, rideID, string(t.Role), t.From, t.To, t.Event, t.Points, t.At)
	return err
}

func (p *PostgresStore) History(ctx context.Context, sessionKey string) ([]models.Transition, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT session_key, ride_request_id, role, from_status, to_status, event, points, at FROM matching_transitions WHERE session_key = $1 ORDER BY at, id`, sessionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Transition
	for rows.Next() {
		var (
			t      models.Transition
			rideID sql.NullInt64
			role   string
		)
		if err := rows.Scan(&t.SessionKey, &rideID, &role, &t.From, &t.To, &t.Event, &t.Points, &t.At); err != nil {
			return nil, err
		}
		t.RideRequestID = rideID.Int64
		t.Role = models.Role(role)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }
