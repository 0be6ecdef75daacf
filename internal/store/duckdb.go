package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/pkg/errors"

	_ "github.com/marcboeker/go-duckdb"
)

// DuckDBStore persists state documents in a single DuckDB table. A file path
// gives durable storage across restarts; ":memory:" gives an ephemeral store
// with the same query path as production.
type DuckDBStore struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

func NewDuckDBStore(path string, log *logger.Logger) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStoreUnavailable, err, "failed to open duckdb at %q", path)
	}

	s := &DuckDBStore{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DuckDBStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS state (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to create state table", err)
	}
	return nil
}

func (s *DuckDBStore) Load(ctx context.Context, key string) ([]byte, error) {
	query := s.sq.
		Select("value").
		From("state").
		Where(squirrel.Eq{"key": key}).
		RunWith(s.db)

	var value string
	err := query.QueryRowContext(ctx).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.ErrCodeStateNotFound, "no state stored under %q", key)
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to load state %q", key)
	}
	return []byte(value), nil
}

func (s *DuckDBStore) Save(ctx context.Context, key string, value []byte) error {
	// DuckDB supports INSERT OR REPLACE for primary-key upserts.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value, updated_at) VALUES (?, ?, ?)`,
		key, string(value), time.Now().UTC())
	if err != nil {
		return errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to save state %q", key)
	}
	s.log.Debug("Saved state", zap.String("key", key), zap.Int("bytes", len(value)))
	return nil
}

func (s *DuckDBStore) Close() error {
	return s.db.Close()
}
