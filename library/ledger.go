package library

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Ledger owns LedgerEntry records. Its mutating methods take the transaction
// they run in so the Coordinator can pair them with an item status change.
type Ledger struct {
	db  *Database
	log Logger
}

// NewLedger returns a Ledger over db.
func NewLedger(db *Database, logger Logger) *Ledger {
	if logger == nil {
		logger = discardLogger()
	}
	return &Ledger{db: db, log: logger}
}

type ledgerRow struct {
	ID           int64          `db:"id"`
	Account      string         `db:"account"`
	ItemTitle    string         `db:"item_title"`
	DateTaken    string         `db:"date_taken"`
	DateReturned sql.NullString `db:"date_returned"`
}

func (r ledgerRow) entry() (LedgerEntry, error) {
	taken, err := decodeTime(r.DateTaken)
	if err != nil {
		return LedgerEntry{}, err
	}
	e := LedgerEntry{ID: r.ID, Account: r.Account, ItemTitle: r.ItemTitle, DateTaken: taken}
	if r.DateReturned.Valid {
		returned, err := decodeTime(r.DateReturned.String)
		if err != nil {
			return LedgerEntry{}, err
		}
		e.DateReturned = &returned
	}
	return e, nil
}

func toEntries(rows []ledgerRow) ([]LedgerEntry, error) {
	out := make([]LedgerEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// OpenEntry records that account took title at ts.
func (l *Ledger) OpenEntry(ctx context.Context, tx DBTX, account, title string, ts time.Time) (LedgerEntry, error) {
	const op = "open entry"
	if strings.TrimSpace(account) == "" || strings.TrimSpace(title) == "" {
		return LedgerEntry{}, validationErr(op, title, "account and title are required")
	}
	open, err := openEntries(ctx, tx, account, title)
	if err != nil {
		return LedgerEntry{}, storeErr(op, title, err)
	}
	if len(open) > 0 {
		return LedgerEntry{}, conflictErr(op, account+"/"+title, "an open entry already exists")
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ledger(account,item_title,date_taken,date_returned) VALUES(?,?,?,NULL)`,
		account, title, encodeTime(ts))
	if err != nil {
		return LedgerEntry{}, storeErr(op, title, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return LedgerEntry{}, storeErr(op, title, err)
	}
	return LedgerEntry{ID: id, Account: account, ItemTitle: title, DateTaken: ts.UTC()}, nil
}

// CloseEntry stamps the open entry of (account, title) with ts. Should more
// than one be open, the most recent is closed and the anomaly is logged.
func (l *Ledger) CloseEntry(ctx context.Context, tx DBTX, account, title string, ts time.Time) (LedgerEntry, error) {
	const op = "close entry"
	open, err := openEntries(ctx, tx, account, title)
	if err != nil {
		return LedgerEntry{}, storeErr(op, title, err)
	}
	if len(open) == 0 {
		return LedgerEntry{}, notFoundErr(op, account+"/"+title, "no open entry")
	}
	if len(open) > 1 {
		l.log.Warn("multiple open ledger entries", "account", account, "title", title, "count", len(open), "closing_id", open[0].ID)
	}

	target := open[0]
	if _, err := tx.ExecContext(ctx, `UPDATE ledger SET date_returned=? WHERE id=?`, encodeTime(ts), target.ID); err != nil {
		return LedgerEntry{}, storeErr(op, title, err)
	}
	e, err := target.entry()
	if err != nil {
		return LedgerEntry{}, storeErr(op, title, err)
	}
	returned := ts.UTC()
	e.DateReturned = &returned
	return e, nil
}

// DeleteEntry removes every record of (account, title), open or closed, and
// reports how many went and whether one of them was open.
func (l *Ledger) DeleteEntry(ctx context.Context, tx DBTX, account, title string) (deleted int, hadOpen bool, err error) {
	const op = "delete entry"
	open, err := openEntries(ctx, tx, account, title)
	if err != nil {
		return 0, false, storeErr(op, title, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM ledger WHERE account=? AND item_title=?`, account, title)
	if err != nil {
		return 0, false, storeErr(op, title, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, storeErr(op, title, err)
	}
	if n == 0 {
		return 0, false, notFoundErr(op, account+"/"+title, "no ledger records")
	}
	return int(n), len(open) > 0, nil
}

// OpenEntries lists the open entries of (account, title), newest first.
func (l *Ledger) OpenEntries(ctx context.Context, account, title string) ([]LedgerEntry, error) {
	rows, err := openEntries(ctx, l.db.db, account, title)
	if err != nil {
		return nil, storeErr("open entries", title, err)
	}
	entries, err := toEntries(rows)
	if err != nil {
		return nil, storeErr("open entries", title, err)
	}
	return entries, nil
}

func openEntries(ctx context.Context, q DBTX, account, title string) ([]ledgerRow, error) {
	var rows []ledgerRow
	err := q.SelectContext(ctx, &rows, `
        SELECT id,account,item_title,date_taken,date_returned FROM ledger
        WHERE account=? AND item_title=? AND date_returned IS NULL
        ORDER BY date_taken DESC, id DESC`, account, title)
	return rows, err
}

func countOpenForTitle(ctx context.Context, q DBTX, title string) (int, error) {
	var n int
	err := q.GetContext(ctx, &n, `SELECT COUNT(*) FROM ledger WHERE item_title=? AND date_returned IS NULL`, title)
	return n, err
}
