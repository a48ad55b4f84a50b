package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
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

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSeen(ctx context.Context) ([]SeenEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint, seen_at FROM seen`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SeenEntry
	for rows.Next() {
		var (
			fp string
			ms int64
		)
		if err := rows.Scan(&fp, &ms); err != nil {
			return nil, fmt.Errorf("%w: seen row: %v", ErrCorrupt, err)
		}
		out = append(out, SeenEntry{Fingerprint: fp, SeenAt: fromMilli(ms)})
	}
	return out, rows.Err()
}

// SaveSeen replaces the table contents in one transaction.
func (s *sqliteStore) SaveSeen(ctx context.Context, entries []SeenEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM seen`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO seen(fingerprint, seen_at) VALUES(?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		if e.Fingerprint == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, e.Fingerprint, toMilli(e.SeenAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadTargets(ctx context.Context) ([]model.Target, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, label, active, tier, last_activity_at, item_count, created_at, dormant_at, dormant_reason
		 FROM targets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Target
	for rows.Next() {
		var (
			t                         model.Target
			tier                      string
			active                    int
			lastMS, createdMS, dormMS int64
			reason                    sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.URL, &t.Label, &active, &tier, &lastMS, &t.ItemCount, &createdMS, &dormMS, &reason); err != nil {
			return nil, err
		}
		t.Active = active != 0
		t.Tier = model.Tier(tier)
		t.LastActivityAt = fromMilli(lastMS)
		t.CreatedAt = fromMilli(createdMS)
		t.DormantAt = fromMilli(dormMS)
		t.DormantReason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveTarget(ctx context.Context, t model.Target) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("target id is required")
	}
	active := 0
	if t.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets(id, url, label, active, tier, last_activity_at, item_count, created_at, dormant_at, dormant_reason)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   url=excluded.url, label=excluded.label, active=excluded.active, tier=excluded.tier,
		   last_activity_at=excluded.last_activity_at, item_count=excluded.item_count,
		   dormant_at=excluded.dormant_at, dormant_reason=excluded.dormant_reason`,
		t.ID, t.URL, t.Label, active, string(t.Tier), toMilli(t.LastActivityAt), t.ItemCount,
		toMilli(t.CreatedAt), toMilli(t.DormantAt), nullStr(t.DormantReason),
	)
	return err
}

func (s *sqliteStore) DeleteTarget(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, target_id, detail) VALUES(?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Actor, e.Action, nullStr(e.TargetID), nullStr(e.Detail),
	)
	return err
}

func toMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
