package ledger

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"provenance/internal/core/errors"
	"provenance/internal/engine/changelog"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"

	DefaultChangeLogTable = "DATABASECHANGELOG"
	DefaultLockTable      = "DATABASECHANGELOGLOCK"
	DefaultBusyTimeout    = 2 * time.Second

	ExecTypeExecuted = "EXECUTED"

	maxAttempts = 5
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type Options struct {
	BusyTimeout    time.Duration
	ChangeLogTable string
	LockTable      string
}

// RanChangeSet is one row of the migration history table.
type RanChangeSet struct {
	ID            string
	Author        string
	FileName      string
	DateExecuted  time.Time
	OrderExecuted int
	ExecType      string
}

func (r RanChangeSet) Key() changelog.Key {
	return changelog.Key{ID: r.ID, Author: r.Author, FilePath: changelog.NormalizePath(r.FileName)}
}

// Store reads the migration ledger of a live database. Resolution only ever
// reads; EnsureSchema and Record exist for fixtures and seeding.
type Store struct {
	driver         string
	db             *sql.DB
	changeLogTable string
	lockTable      string
	mu             sync.Mutex
}

func Open(driver, dsn string, opts Options) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New(errors.CodeValidationError, "ledger dsn must not be empty")
	}

	changeLogTable, err := tableName(opts.ChangeLogTable, DefaultChangeLogTable)
	if err != nil {
		return nil, err
	}
	lockTable, err := tableName(opts.LockTable, DefaultLockTable)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(dsn, opts.BusyTimeout)
	case DriverPgx:
		db, err = sql.Open(DriverPgx, dsn)
		if err != nil {
			err = errors.Wrap(err, errors.CodeProvider, "open postgres ledger")
		}
	default:
		return nil, errors.Newf(errors.CodeNotSupported, "unsupported ledger driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{driver: driver, db: db, changeLogTable: changeLogTable, lockTable: lockTable}
	if err := s.withRetry(context.Background(), "ping ledger", func() error { return db.Ping() }); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeProvider, "connect to ledger")
	}
	return s, nil
}

func openSQLite(dsn string, busyTimeout time.Duration) (*sql.DB, error) {
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if info, err := os.Stat(dsn); err == nil && info.IsDir() {
			return nil, errors.Newf(errors.CodeValidationError, "ledger path %q is a directory, expected file", dsn)
		}
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, errors.CodeProvider, "create ledger directory")
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", dsn, busyTimeout.Milliseconds())
	}

	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProvider, "open sqlite ledger")
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	return db, nil
}

func tableName(name, fallback string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback, nil
	}
	if !identifierPattern.MatchString(name) {
		return "", errors.Newf(errors.CodeValidationError, "invalid ledger table name %q", name)
	}
	return name, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Driver() string { return s.driver }

// RanChangeSets returns the ledger rows in execution order. A database
// without a history table has run nothing.
func (s *Store) RanChangeSets(ctx context.Context) ([]RanChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`
SELECT ID, AUTHOR, FILENAME, DATEEXECUTED, ORDEREXECUTED, EXECTYPE
FROM %s
ORDER BY DATEEXECUTED ASC, ORDEREXECUTED ASC`, s.changeLogTable)

	var rows *sql.Rows
	err := s.withRetry(ctx, "load ran changesets", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, query)
		return qErr
	})
	if err != nil {
		if isMissingTableError(err) {
			return []RanChangeSet{}, nil
		}
		return nil, errors.Wrap(err, errors.CodeProvider, "read migration ledger")
	}
	defer rows.Close()

	ran := make([]RanChangeSet, 0)
	for rows.Next() {
		var (
			r        RanChangeSet
			executed any
			execType sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Author, &r.FileName, &executed, &r.OrderExecuted, &execType); err != nil {
			return nil, errors.Wrap(err, errors.CodeProvider, "scan ledger row")
		}
		ts, err := parseTimestamp(executed)
		if err != nil {
			return nil, errors.AddContext(errors.Wrap(err, errors.CodeProvider, "parse ledger timestamp"), errors.CtxPath, r.FileName)
		}
		r.DateExecuted = ts
		r.ExecType = execType.String
		ran = append(ran, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeProvider, "iterate ledger rows")
	}
	return ran, nil
}

// Locked reports whether another runner holds the ledger lock. A missing
// lock table or lock row means unlocked.
func (s *Store) Locked(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.rebind(fmt.Sprintf("SELECT LOCKED FROM %s WHERE ID = ?", s.lockTable))
	var raw any
	err := s.withRetry(ctx, "read ledger lock", func() error {
		return s.db.QueryRowContext(ctx, query, 1).Scan(&raw)
	})
	switch {
	case err == nil:
	case stderrors.Is(err, sql.ErrNoRows), isMissingTableError(err):
		return false, nil
	default:
		return false, errors.Wrap(err, errors.CodeProvider, "read ledger lock")
	}
	return asBool(raw), nil
}

// Record appends one row to the history table. A zero OrderExecuted takes
// the next order number and a zero DateExecuted takes the current time.
func (s *Store) Record(ctx context.Context, r RanChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeProvider, "begin ledger transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insert(ctx, tx, r); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeProvider, "commit ledger transaction")
	}
	return nil
}

// RecordChangeSets marks every changeset not yet in the ledger as executed,
// in order, within one transaction. It returns the number of rows added.
func (s *Store) RecordChangeSets(ctx context.Context, changeSets []changelog.ChangeSet) (int, error) {
	ran, err := s.RanChangeSets(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[changelog.Key]bool, len(ran))
	for _, r := range ran {
		seen[r.Key()] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeProvider, "begin ledger transaction")
	}
	defer func() { _ = tx.Rollback() }()

	added := 0
	for _, cs := range changeSets {
		if seen[cs.Key()] {
			continue
		}
		seen[cs.Key()] = true
		if err := s.insert(ctx, tx, RanChangeSet{ID: cs.ID, Author: cs.Author, FileName: cs.FilePath}); err != nil {
			return 0, err
		}
		added++
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.CodeProvider, "commit ledger transaction")
	}
	return added, nil
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, r RanChangeSet) error {
	if strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.Author) == "" {
		return errors.New(errors.CodeValidationError, "ledger rows require id and author")
	}
	if r.DateExecuted.IsZero() {
		r.DateExecuted = time.Now().UTC()
	}
	if r.ExecType == "" {
		r.ExecType = ExecTypeExecuted
	}
	if r.OrderExecuted == 0 {
		next := fmt.Sprintf("SELECT COALESCE(MAX(ORDEREXECUTED), 0) + 1 FROM %s", s.changeLogTable)
		if err := tx.QueryRowContext(ctx, next).Scan(&r.OrderExecuted); err != nil {
			return errors.Wrap(err, errors.CodeProvider, "compute next ledger order")
		}
	}

	query := s.rebind(fmt.Sprintf(`
INSERT INTO %s (ID, AUTHOR, FILENAME, DATEEXECUTED, ORDEREXECUTED, EXECTYPE)
VALUES (?, ?, ?, ?, ?, ?)`, s.changeLogTable))
	_, err := tx.ExecContext(ctx, query, r.ID, r.Author, r.FileName, r.DateExecuted.UTC(), r.OrderExecuted, r.ExecType)
	if err != nil {
		return errors.AddContext(errors.Wrap(err, errors.CodeProvider, "record changeset"), errors.CtxPath, r.FileName)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPgx {
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

func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(time.Duration(attempt*25) * time.Millisecond):
		}
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func isMissingTableError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such table")
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func parseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case []byte:
		return parseTimestamp(string(v))
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

func asBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case []byte:
		return asBool(string(v))
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	}
	return false
}
