package library

import (
	"context"
	"errors"
	"strings"
)

// Coordinator is the only path that changes an item's status. Every
// transition pairs the ledger change and the status change in one
// transaction, so readers never see one without the other.
//
//	Available --borrow--> Borrowed
//	Borrowed  --return--> Available
type Coordinator struct {
	db        *Database
	inventory *Inventory
	ledger    *Ledger
	clock     Clock
	log       Logger
}

// NewCoordinator wires the coordinator to its managers.
func NewCoordinator(db *Database, inv *Inventory, ledger *Ledger, clock Clock, logger Logger) *Coordinator {
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Coordinator{db: db, inventory: inv, ledger: ledger, clock: clock, log: logger}
}

// Borrow lends title to account.
func (c *Coordinator) Borrow(ctx context.Context, account, title string) (LedgerEntry, error) {
	const op = "borrow"
	if strings.TrimSpace(account) == "" || strings.TrimSpace(title) == "" {
		return LedgerEntry{}, validationErr(op, title, "account and title are required")
	}
	var entry LedgerEntry
	err := c.db.withTx(ctx, op, func(tx DBTX) error {
		var err error
		entry, err = c.borrow(ctx, tx, account, title)
		return err
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	c.log.Info("item borrowed", "account", account, "title", title, "entry_id", entry.ID)
	return entry, nil
}

// Return takes title back from account.
func (c *Coordinator) Return(ctx context.Context, account, title string) (LedgerEntry, error) {
	const op = "return"
	if strings.TrimSpace(account) == "" || strings.TrimSpace(title) == "" {
		return LedgerEntry{}, validationErr(op, title, "account and title are required")
	}
	var entry LedgerEntry
	err := c.db.withTx(ctx, op, func(tx DBTX) error {
		var err error
		entry, err = c.giveBack(ctx, tx, account, title)
		return err
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	c.log.Info("item returned", "account", account, "title", title, "entry_id", entry.ID)
	return entry, nil
}

// Toggle borrows an Available item or returns a Borrowed one on behalf of the
// session's account. It refuses to act when status and ledger disagree.
func (c *Coordinator) Toggle(ctx context.Context, s Session, title string) (Status, error) {
	const op = "toggle"
	if strings.TrimSpace(s.Account) == "" {
		return "", validationErr(op, title, "session has no account")
	}
	var next Status
	err := c.db.withTx(ctx, op, func(tx DBTX) error {
		item, err := getItem(ctx, tx, title)
		if err != nil {
			return err
		}
		open, err := countOpenForTitle(ctx, tx, title)
		if err != nil {
			return err
		}
		if !consistent(item.Status, open) {
			return conflictErr(op, title, "item status and ledger disagree; run an audit")
		}
		if item.Status == StatusAvailable {
			_, err = c.borrow(ctx, tx, s.Account, title)
			next = StatusBorrowed
		} else {
			_, err = c.giveBack(ctx, tx, s.Account, title)
			next = StatusAvailable
		}
		return err
	})
	if err != nil {
		return "", err
	}
	c.log.Info("item toggled", "session", s.ID, "account", s.Account, "title", title, "status", next)
	return next, nil
}

// DeleteRecord removes the ledger history of (account, title). Admin only.
// If an open entry goes with it, the item is put back to Available in the
// same transaction.
func (c *Coordinator) DeleteRecord(ctx context.Context, role Role, account, title string) (int, error) {
	const op = "delete ledger record"
	if err := requireAdmin(op, role); err != nil {
		return 0, err
	}
	var deleted int
	err := c.db.withTx(ctx, op, func(tx DBTX) error {
		n, hadOpen, err := c.ledger.DeleteEntry(ctx, tx, account, title)
		if err != nil {
			return err
		}
		deleted = n
		if !hadOpen {
			return nil
		}
		item, err := getItem(ctx, tx, title)
		if errors.Is(err, ErrNotFound) {
			// history of a removed item
			return nil
		}
		if err != nil {
			return err
		}
		remaining, err := countOpenForTitle(ctx, tx, title)
		if err != nil {
			return err
		}
		if item.Status == StatusBorrowed && remaining == 0 {
			return c.inventory.SetStatus(ctx, tx, title, StatusAvailable)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.log.Info("ledger records deleted", "account", account, "title", title, "count", deleted)
	return deleted, nil
}

// Audit lists items whose status disagrees with their open ledger entries.
func (c *Coordinator) Audit(ctx context.Context) ([]Anomaly, error) {
	var rows []struct {
		Title  string `db:"title"`
		Status Status `db:"status"`
		Open   int    `db:"open_entries"`
	}
	err := c.db.readTx(ctx, "audit", func(tx DBTX) error {
		return tx.SelectContext(ctx, &rows, `
            SELECT i.title, i.status, COUNT(l.id) AS open_entries
            FROM items i
            LEFT JOIN ledger l ON l.item_title = i.title AND l.date_returned IS NULL
            GROUP BY i.id
            ORDER BY i.id`)
	})
	if err != nil {
		return nil, err
	}
	var out []Anomaly
	for _, r := range rows {
		if !consistent(r.Status, r.Open) {
			out = append(out, Anomaly{Title: r.Title, Status: r.Status, OpenEntries: r.Open})
		}
	}
	if len(out) > 0 {
		c.log.Warn("ledger audit found anomalies", "count", len(out))
	}
	return out, nil
}

func (c *Coordinator) borrow(ctx context.Context, tx DBTX, account, title string) (LedgerEntry, error) {
	const op = "borrow"
	item, err := getItem(ctx, tx, title)
	if err != nil {
		return LedgerEntry{}, err
	}
	if item.Status != StatusAvailable {
		return LedgerEntry{}, conflictErr(op, title, "item is already borrowed")
	}
	open, err := countOpenForTitle(ctx, tx, title)
	if err != nil {
		return LedgerEntry{}, err
	}
	if open > 0 {
		return LedgerEntry{}, conflictErr(op, title, "item is Available but the ledger has an open entry")
	}
	entry, err := c.ledger.OpenEntry(ctx, tx, account, title, c.clock.Now())
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := c.inventory.SetStatus(ctx, tx, title, StatusBorrowed); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

func (c *Coordinator) giveBack(ctx context.Context, tx DBTX, account, title string) (LedgerEntry, error) {
	const op = "return"
	item, err := getItem(ctx, tx, title)
	if err != nil {
		return LedgerEntry{}, err
	}
	if item.Status != StatusBorrowed {
		return LedgerEntry{}, notFoundErr(op, title, "item is not borrowed")
	}
	entry, err := c.ledger.CloseEntry(ctx, tx, account, title, c.clock.Now())
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := c.inventory.SetStatus(ctx, tx, title, StatusAvailable); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

// consistent is the item invariant: Borrowed iff exactly one open entry.
func consistent(status Status, open int) bool {
	if status == StatusBorrowed {
		return open == 1
	}
	return open == 0
}
