// ABOUTME: Content store on database/sql (SQLite via modernc, PostgreSQL via pgx)
// ABOUTME: Parts are JSON rows keyed by (domain, id_local, sub_id, hidden_version)

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nainya/lexstore/pkg/part"
)

// Dialect selects the SQL driver and placeholder style
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS parts (
	domain         TEXT NOT NULL,
	id_local       TEXT NOT NULL,
	sub_id         TEXT NOT NULL,
	hidden_version TEXT NOT NULL,
	kind           TEXT NOT NULL,
	is_latest      INTEGER NOT NULL DEFAULT 0,
	body           TEXT NOT NULL,
	PRIMARY KEY (domain, id_local, sub_id, hidden_version)
);
CREATE TABLE IF NOT EXISTS histories (
	domain   TEXT NOT NULL,
	id_local TEXT NOT NULL,
	body     TEXT NOT NULL,
	PRIMARY KEY (domain, id_local)
);
`

// SQLStore persists parts in a relational database. Committed rows are
// immediately visible, so Refresh is a connectivity check only.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL opens the database and applies the schema
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	driver := ""
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
	case DialectPostgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unknown sql dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// single writer
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}

	s := &SQLStore{db: db, dialect: dialect}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (s *SQLStore) Get(ctx context.Context, key part.Key) (part.Part, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT body FROM parts WHERE domain = ? AND id_local = ? AND sub_id = ? AND hidden_version = ?`),
		key.Domain, key.IDLocal, key.SubID, key.HiddenVersion,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return part.Unmarshal([]byte(body))
}

func (s *SQLStore) Save(ctx context.Context, p part.Part) error {
	data, err := part.Marshal(p)
	if err != nil {
		return err
	}
	k := p.Common().Key()
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO parts (domain, id_local, sub_id, hidden_version, kind, is_latest, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain, id_local, sub_id, hidden_version) DO UPDATE SET
			kind = excluded.kind,
			is_latest = excluded.is_latest,
			body = excluded.body`),
		k.Domain, k.IDLocal, k.SubID, k.HiddenVersion,
		string(p.Kind()), boolInt(p.Common().Abstract.IsLatest), string(data),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", k, mapErr(err))
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key part.Key) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM parts WHERE domain = ? AND id_local = ? AND sub_id = ? AND hidden_version = ?`),
		key.Domain, key.IDLocal, key.SubID, key.HiddenVersion,
	)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// where renders the filter as a WHERE clause with positional arguments
func (s *SQLStore) where(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Domain != "" {
		conds = append(conds, "domain = ?")
		args = append(args, f.Domain)
	}
	if f.IDLocal != "" {
		conds = append(conds, "id_local = ?")
		args = append(args, f.IDLocal)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.IsLatest != nil {
		conds = append(conds, "is_latest = ?")
		args = append(args, boolInt(*f.IsLatest))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLStore) Scan(ctx context.Context, f Filter, fn func(part.Part) error) error {
	clause, args := s.where(f)
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT body FROM parts`+clause+` ORDER BY domain, id_local, sub_id, hidden_version`), args...)
	if err != nil {
		return mapErr(err)
	}

	// Drain before calling fn: sqlite runs on one connection and fn may write.
	var bodies []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			rows.Close()
			return mapErr(err)
		}
		bodies = append(bodies, body)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return mapErr(err)
	}
	rows.Close()

	for _, body := range bodies {
		p, err := part.Unmarshal([]byte(body))
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) DeleteMatching(ctx context.Context, f Filter) (int, error) {
	clause, args := s.where(f)
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM parts`+clause), args...)
	if err != nil {
		return 0, mapErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLStore) LoadHistory(ctx context.Context, doc part.DocID) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT body FROM histories WHERE domain = ? AND id_local = ?`),
		doc.Domain, doc.IDLocal,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: history %s", ErrNotFound, doc)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return []byte(body), nil
}

func (s *SQLStore) SaveHistory(ctx context.Context, doc part.DocID, data []byte) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO histories (domain, id_local, body) VALUES (?, ?, ?)
		ON CONFLICT (domain, id_local) DO UPDATE SET body = excluded.body`),
		doc.Domain, doc.IDLocal, string(data),
	)
	if err != nil {
		return fmt.Errorf("save history %s: %w", doc, mapErr(err))
	}
	return nil
}

func (s *SQLStore) DeleteHistory(ctx context.Context, doc part.DocID) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM histories WHERE domain = ? AND id_local = ?`), doc.Domain, doc.IDLocal)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: history %s", ErrNotFound, doc)
	}
	return nil
}

func (s *SQLStore) Refresh(ctx context.Context) error {
	return mapErr(s.db.PingContext(ctx))
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
