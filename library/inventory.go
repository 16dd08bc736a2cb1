package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Inventory owns Item records. Status changes go through the Coordinator,
// which calls SetStatus inside its own transaction.
type Inventory struct {
	db  *Database
	log Logger
}

// NewInventory returns an Inventory over db.
func NewInventory(db *Database, logger Logger) *Inventory {
	if logger == nil {
		logger = discardLogger()
	}
	return &Inventory{db: db, log: logger}
}

// AddItem inserts a new item and returns its identifier. Only admins may add
// items, and new items always start Available.
func (inv *Inventory) AddItem(ctx context.Context, role Role, title, author string, status Status) (int64, error) {
	const op = "add item"
	if err := requireAdmin(op, role); err != nil {
		return 0, err
	}
	title, author = strings.TrimSpace(title), strings.TrimSpace(author)
	if title == "" || author == "" {
		return 0, validationErr(op, title, "title and author are required")
	}
	if status == "" {
		status = StatusAvailable
	}
	if !status.Valid() {
		return 0, validationErr(op, title, "unknown status "+string(status))
	}
	if status != StatusAvailable {
		return 0, validationErr(op, title, "new items must start Available; lend them through borrow")
	}

	var id int64
	err := inv.db.withTx(ctx, op, func(tx DBTX) error {
		if _, err := getItem(ctx, tx, title); err == nil {
			return conflictErr(op, title, "an item with this title already exists")
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		open, err := countOpenForTitle(ctx, tx, title)
		if err != nil {
			return err
		}
		if open > 0 {
			return conflictErr(op, title, "ledger still holds an open entry for this title")
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO items(title,author,status) VALUES(?,?,?)`, title, author, status)
		if err != nil {
			if isUniqueViolation(err) {
				return conflictErr(op, title, "an item with this title already exists")
			}
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	inv.log.Info("item added", "id", id, "title", title, "author", author)
	return id, nil
}

// RemoveItem deletes the item with the given title. Its ledger history stays.
// The caller is expected to have confirmed the removal already.
func (inv *Inventory) RemoveItem(ctx context.Context, role Role, title string) error {
	const op = "remove item"
	if err := requireAdmin(op, role); err != nil {
		return err
	}
	err := inv.db.withTx(ctx, op, func(tx DBTX) error {
		item, err := getItem(ctx, tx, title)
		if err != nil {
			return err
		}
		if item.Status == StatusBorrowed {
			return conflictErr(op, title, "item is borrowed; return it first")
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM items WHERE id=?`, item.ID)
		return err
	})
	if err != nil {
		return err
	}
	inv.log.Info("item removed", "title", title)
	return nil
}

// GetItem fetches a single item by title.
func (inv *Inventory) GetItem(ctx context.Context, title string) (*Item, error) {
	item, err := getItem(ctx, inv.db.db, title)
	if err != nil {
		return nil, storeErr("get item", title, err)
	}
	return item, nil
}

// SetStatus updates the item's status inside tx. Only the Coordinator calls it.
func (inv *Inventory) SetStatus(ctx context.Context, tx DBTX, title string, status Status) error {
	const op = "set status"
	if !status.Valid() {
		return validationErr(op, title, "unknown status "+string(status))
	}
	res, err := tx.ExecContext(ctx, `UPDATE items SET status=? WHERE title=?`, status, title)
	if err != nil {
		return storeErr(op, title, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, title, err)
	}
	if n == 0 {
		return notFoundErr(op, title, "no such item")
	}
	return nil
}

func getItem(ctx context.Context, q DBTX, title string) (*Item, error) {
	var it Item
	err := q.GetContext(ctx, &it, `SELECT id,title,author,status FROM items WHERE title=?`, title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundErr("get item", title, "no such item")
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
