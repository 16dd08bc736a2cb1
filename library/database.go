package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
)

const (
	driverName = "sqlite3_library"

	// storedTimeLayout is fixed width so text order equals time order.
	storedTimeLayout  = "2006-01-02 15:04:05.000000000"
	displayTimeLayout = "2006-01-02 15:04:05"
)

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("casefold", casefold, true)
		},
	})
	sqlx.BindDriver(driverName, sqlx.QUESTION)
}

// casefold backs case-insensitive search for non-ASCII titles too.
func casefold(s string) string { return cases.Fold().String(s) }

// DBTX is implemented by both *sqlx.DB and *sqlx.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Database provides high-level helpers around a SQLite connection pool.
// Writes are serialized in-process; reads run concurrently under WAL.
type Database struct {
	db      *sqlx.DB
	writeMu sync.Mutex
	log     Logger
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
func NewDatabase(dbPath string, logger Logger) (*Database, error) {
	if logger == nil {
		logger = discardLogger()
	}
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storeErr("open", dbPath, fmt.Errorf("create db dir: %w", err))
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, storeErr("open", dbPath, err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := applyMigrations(db, logger); err != nil {
		db.Close()
		return nil, storeErr("migrate", dbPath, err)
	}
	return &Database{db: db, log: logger}, nil
}

// Close closes the pool.
func (d *Database) Close() error { return d.db.Close() }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sqlx.DB, logger Logger) error {
	// WAL lets background reads proceed while a mutation commits.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL UNIQUE,
            author TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'Available' CHECK(status IN ('Available', 'Borrowed'))
        );`,
		`CREATE TABLE IF NOT EXISTS ledger (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            account TEXT NOT NULL,
            item_title TEXT NOT NULL,
            date_taken TEXT NOT NULL,
            date_returned TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_taken ON ledger(date_taken DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_open ON ledger(item_title, account) WHERE date_returned IS NULL;`,
		`CREATE TABLE IF NOT EXISTS accounts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            credential TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'guest' CHECK(role IN ('admin', 'guest'))
        );`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info("schema migrated", "from", current, "to", schemaVersion)
	return nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// withTx runs fn inside a write transaction. fn returning nil commits,
// anything else rolls back. Only one write transaction runs at a time.
func (d *Database) withTx(ctx context.Context, op string, fn func(tx DBTX) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr(op, "", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return storeErr(op, "", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, "", err)
	}
	return nil
}

// readTx runs fn inside a read-only transaction so multi-statement reads see
// one snapshot.
func (d *Database) readTx(ctx context.Context, op string, fn func(tx DBTX) error) error {
	tx, err := d.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return storeErr(op, "", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return storeErr(op, "", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Time encoding
// ---------------------------------------------------------------------------

func encodeTime(t time.Time) string { return t.UTC().Format(storedTimeLayout) }

func decodeTime(s string) (time.Time, error) {
	return time.ParseInLocation(storedTimeLayout, s, time.UTC)
}

// FormatTime renders a timestamp the way the ledger displays it.
func FormatTime(t time.Time) string { return t.UTC().Format(displayTimeLayout) }
