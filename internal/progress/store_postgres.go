package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const defaultTable = "sluice_checkpoints"

// PostgresStore keeps checkpoints in a table keyed by checkpoint key. The
// upsert only ever raises last_acked_offset, so a late writer cannot move a
// checkpoint backwards.
type PostgresStore struct {
	db    *sql.DB
	table string
}

func OpenPostgresStore(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("progress: postgres store needs a dsn")
	}
	if table == "" {
		table = defaultTable
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("progress: postgres ping: %w", err)
	}
	s := &PostgresStore{db: db, table: pq.QuoteIdentifier(table)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		checkpoint_key    TEXT PRIMARY KEY,
		last_acked_offset BIGINT NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, key string) (Checkpoint, bool, error) {
	cp := Checkpoint{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT last_acked_offset, updated_at FROM `+s.table+` WHERE checkpoint_key = $1`, key,
	).Scan(&cp.Offset, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.table+` (checkpoint_key, last_acked_offset, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (checkpoint_key) DO UPDATE
		SET last_acked_offset = EXCLUDED.last_acked_offset, updated_at = EXCLUDED.updated_at
		WHERE `+s.table+`.last_acked_offset < EXCLUDED.last_acked_offset`,
		cp.Key, cp.Offset, cp.UpdatedAt)
	return err
}

func (s *PostgresStore) Close() error { return s.db.Close() }
