package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "mushqueue/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore writes every object mutation through to SQLite and serves
// reads from the shared in-memory table.
type sqliteStore struct {
	*memStore

	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{memStore: newMemStore(), db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	ctx := context.Background()
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := st.loadAll(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.persist = st.upsert
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) loadAll(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT ref, data FROM objects`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ref  int64
			data string
		)
		if err := rows.Scan(&ref, &data); err != nil {
			return err
		}
		var o Object
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			s.log.Warn("skipping unreadable object row", logx.Ref("ref", ref), logx.Err(err))
			continue
		}
		o.Ref = DBRef(ref)
		s.load(o)
	}
	return rows.Err()
}

// upsert runs under memStore.mu.
func (s *sqliteStore) upsert(o Object) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO objects(ref, owner, player, halted, queue, data, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(ref) DO UPDATE SET owner=excluded.owner, player=excluded.player,
		   halted=excluded.halted, queue=excluded.queue, data=excluded.data, updated_at=excluded.updated_at`,
		int64(o.Ref), int64(o.Owner), boolInt(o.Player), boolInt(o.Halted), o.Queue, string(b),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Checkpoint folds the WAL back into the main database file.
func (s *sqliteStore) Checkpoint(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
