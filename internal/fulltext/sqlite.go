package fulltext

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/logger"
)

const hostPageSize = 1000

// SQLiteStore keeps records in a SQLite file with an FTS5 table over their
// text. An empty path opens an in-memory database.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", path, err)
		}
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", dsn, err)
	}
	// a single connection keeps the in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.WithComponent("fulltext-sqlite"),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	s.logger.Info("fulltext store opened", "path", dsn)
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS urlmd (
		id      TEXT PRIMARY KEY,
		host_id TEXT NOT NULL,
		url     TEXT NOT NULL,
		data    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS urlmd_host ON urlmd(host_id, id);

	CREATE VIRTUAL TABLE IF NOT EXISTS urlmd_fts USING fts5(
		id UNINDEXED,
		text,
		tokenize='unicode61'
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) fail(op string, err error) error {
	return apperrors.New(apperrors.ErrStoreIO, StoreName, op, err)
}

func (s *SQLiteStore) check(op string) error {
	if s.closed {
		return apperrors.New(apperrors.ErrDisconnected, StoreName, op, nil)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return apperrors.New(apperrors.ErrInvalidInput, StoreName, "put", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("put"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("put", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := r.ID.String()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO urlmd(id, host_id, url, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET host_id = excluded.host_id, url = excluded.url, data = excluded.data`,
		id, r.HostID, r.URL, string(data),
	); err != nil {
		return s.fail("put", err)
	}
	// FTS5 tables have no upsert
	if _, err := tx.ExecContext(ctx, `DELETE FROM urlmd_fts WHERE id = ?`, id); err != nil {
		return s.fail("put", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO urlmd_fts(id, text) VALUES (?, ?)`, id, r.searchText(),
	); err != nil {
		return s.fail("put", err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("put", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id digest.URLHash) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get"); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM urlmd WHERE id = ?`, id.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrNotFound, StoreName, "get", nil)
	}
	if err != nil {
		return nil, s.fail("get", err)
	}
	var r Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, apperrors.New(apperrors.ErrParseFailure, StoreName, "get", err)
	}
	return &r, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id digest.URLHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("remove"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("remove", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM urlmd WHERE id = ?`, id.String()); err != nil {
		return s.fail("remove", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM urlmd_fts WHERE id = ?`, id.String()); err != nil {
		return s.fail("remove", err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("remove", err)
	}
	return nil
}

func (s *SQLiteStore) Exists(ctx context.Context, id digest.URLHash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("exists"); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM urlmd WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, s.fail("exists", err)
	}
	return true, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("count"); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM urlmd`).Scan(&n); err != nil {
		return 0, s.fail("count", err)
	}
	return n, nil
}

func (s *SQLiteStore) QueryCount(ctx context.Context, word string) (int, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return 0, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("query_count"); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM urlmd_fts WHERE urlmd_fts MATCH ?`, ftsPhrase(word),
	).Scan(&n)
	if err != nil {
		return 0, s.fail("query_count", err)
	}
	return n, nil
}

// ftsPhrase quotes word as an FTS5 string so operators in it are literal.
func ftsPhrase(word string) string {
	return `"` + strings.ReplaceAll(word, `"`, `""`) + `"`
}

// HostIDs pages through the host index so fn never runs while a query holds
// the single connection.
func (s *SQLiteStore) HostIDs(ctx context.Context, hostID string, fn func(digest.URLHash) error) error {
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

func (s *SQLiteStore) hostPage(ctx context.Context, hostID, after string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("host_ids"); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM urlmd WHERE host_id = ? AND id > ? ORDER BY id LIMIT ?`,
		hostID, after, hostPageSize,
	)
	if err != nil {
		return nil, s.fail("host_ids", err)
	}
	defer rows.Close()

	page := make([]string, 0, hostPageSize)
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

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("clear"); err != nil {
		return err
	}
	for _, stmt := range []string{`DELETE FROM urlmd`, `DELETE FROM urlmd_fts`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.fail("clear", err)
		}
	}
	s.logger.Info("fulltext store cleared")
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
