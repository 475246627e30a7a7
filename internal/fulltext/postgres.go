package fulltext

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/postgres"
)

var postgresSchema = []postgres.Migration{
	{Version: 1, Name: "urlmd", Statements: []string{
		`CREATE TABLE IF NOT EXISTS urlmd (
			id      TEXT PRIMARY KEY,
			host_id TEXT NOT NULL,
			url     TEXT NOT NULL,
			data    JSONB NOT NULL,
			body    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS urlmd_host ON urlmd (host_id, id)`,
	}},
	{Version: 2, Name: "urlmd body fts", Statements: []string{
		`CREATE INDEX IF NOT EXISTS urlmd_body_fts ON urlmd USING GIN (to_tsvector('simple', body))`,
	}},
}

// PostgresStore keeps records in PostgreSQL and answers text counts from a
// GIN-indexed tsvector over the record text.
type PostgresStore struct {
	client *postgres.Client
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, client *postgres.Client) (*PostgresStore, error) {
	if err := client.Migrate(ctx, postgresSchema...); err != nil {
		return nil, err
	}
	return &PostgresStore{
		client: client,
		logger: logger.WithComponent("fulltext-postgres"),
	}, nil
}

func (s *PostgresStore) fail(op string, err error) error {
	return apperrors.New(apperrors.ErrStoreIO, StoreName, op, err)
}

func (s *PostgresStore) Put(ctx context.Context, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return apperrors.New(apperrors.ErrInvalidInput, StoreName, "put", err)
	}
	_, err = s.client.DB.ExecContext(ctx,
		`INSERT INTO urlmd (id, host_id, url, data, body) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET host_id = EXCLUDED.host_id, url = EXCLUDED.url,
		 data = EXCLUDED.data, body = EXCLUDED.body`,
		r.ID.String(), r.HostID, r.URL, data, r.searchText(),
	)
	if err != nil {
		return s.fail("put", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id digest.URLHash) (*Record, error) {
	var data []byte
	err := s.client.DB.QueryRowContext(ctx, `SELECT data FROM urlmd WHERE id = $1`, id.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrNotFound, StoreName, "get", nil)
	}
	if err != nil {
		return nil, s.fail("get", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, apperrors.New(apperrors.ErrParseFailure, StoreName, "get", err)
	}
	return &r, nil
}

func (s *PostgresStore) Remove(ctx context.Context, id digest.URLHash) error {
	if _, err := s.client.DB.ExecContext(ctx, `DELETE FROM urlmd WHERE id = $1`, id.String()); err != nil {
		return s.fail("remove", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, id digest.URLHash) (bool, error) {
	var exists bool
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM urlmd WHERE id = $1)`, id.String(),
	).Scan(&exists)
	if err != nil {
		return false, s.fail("exists", err)
	}
	return exists, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.client.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM urlmd`).Scan(&n); err != nil {
		return 0, s.fail("count", err)
	}
	return n, nil
}

func (s *PostgresStore) QueryCount(ctx context.Context, word string) (int, error) {
	var n int
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM urlmd WHERE to_tsvector('simple', body) @@ plainto_tsquery('simple', $1)`,
		word,
	).Scan(&n)
	if err != nil {
		return 0, s.fail("query_count", err)
	}
	return n, nil
}

func (s *PostgresStore) HostIDs(ctx context.Context, hostID string, fn func(digest.URLHash) error) error {
	after := ""
	for {
		page, err := s.hostPage(ctx, hostID, after)
		if err != nil {
			return err
		}
		for _, raw := range page {
			id, err := digest.ParseURLHash(raw)
			if err != nil {
				s.logger.Warn("skipping malformed id", "id", raw, "error", err)
				continue
			}
			if err := fn(id); err != nil {
				return err
			}
		}
		if len(page) < hostPageSize {
			return nil
		}
		after = page[len(page)-1]
	}
}

func (s *PostgresStore) hostPage(ctx context.Context, hostID, after string) ([]string, error) {
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT id FROM urlmd WHERE host_id = $1 AND id > $2 ORDER BY id LIMIT $3`,
		hostID, after, hostPageSize,
	)
	if err != nil {
		return nil, s.fail("host_ids", err)
	}
	defer rows.Close()

	var page []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail("host_ids", err)
		}
		page = append(page, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("host_ids", err)
	}
	return page, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, `TRUNCATE urlmd`); err != nil {
		return s.fail("clear", err)
	}
	s.logger.Info("fulltext store cleared")
	return nil
}

func (s *PostgresStore) Close() error {
	return s.client.Close()
}
