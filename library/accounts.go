package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Accounts verifies credentials and hands out sessions. The core only ever
// consumes the resulting (account, role) pair.
type Accounts struct {
	db   *Database
	log  Logger
	cost int
}

// NewAccounts returns an account store hashing with the given bcrypt cost.
func NewAccounts(db *Database, cost int, logger Logger) *Accounts {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Accounts{db: db, log: logger, cost: cost}
}

// Register creates a guest account.
func (a *Accounts) Register(ctx context.Context, username, password string) (int64, error) {
	return a.create(ctx, "register", username, password, RoleGuest)
}

// CreateAccount lets an admin create an account with any role.
func (a *Accounts) CreateAccount(ctx context.Context, caller Role, username, password string, role Role) (int64, error) {
	const op = "create account"
	if err := requireAdmin(op, caller); err != nil {
		return 0, err
	}
	return a.create(ctx, op, username, password, role)
}

// EnsureAdmin creates the admin account if no account with that name exists.
func (a *Accounts) EnsureAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil
	}
	_, err := a.get(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err = a.create(ctx, "ensure admin", username, password, RoleAdmin)
	return err
}

// Authenticate checks the credential and opens a session.
func (a *Accounts) Authenticate(ctx context.Context, username, password string) (Session, error) {
	const op = "authenticate"
	acct, err := a.get(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrNotFound) {
		return Session{}, &Error{Kind: ErrPermission, Op: op, Msg: "invalid username or password"}
	}
	if err != nil {
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.Credential), []byte(password)); err != nil {
		return Session{}, &Error{Kind: ErrPermission, Op: op, Msg: "invalid username or password"}
	}
	s := Session{ID: uuid.NewString(), Account: acct.Username, Role: acct.Role}
	a.log.Info("session opened", "session", s.ID, "account", s.Account, "role", s.Role)
	return s, nil
}

// ListAccounts returns every account without credentials. Admin only.
func (a *Accounts) ListAccounts(ctx context.Context, caller Role) ([]Account, error) {
	const op = "list accounts"
	if err := requireAdmin(op, caller); err != nil {
		return nil, err
	}
	accounts := make([]Account, 0)
	if err := a.db.db.SelectContext(ctx, &accounts, `SELECT id,username,'' AS credential,role FROM accounts ORDER BY id`); err != nil {
		return nil, storeErr(op, "", err)
	}
	return accounts, nil
}

func (a *Accounts) create(ctx context.Context, op, username, password string, role Role) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, validationErr(op, username, "username and password are required")
	}
	if role != RoleAdmin && role != RoleGuest {
		return 0, validationErr(op, username, "unknown role "+string(role))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return 0, validationErr(op, username, err.Error())
	}

	var id int64
	err = a.db.withTx(ctx, op, func(tx DBTX) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO accounts(username,credential,role) VALUES(?,?,?)`, username, string(hash), role)
		if err != nil {
			if isUniqueViolation(err) {
				return conflictErr(op, username, "username is already taken")
			}
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	a.log.Info("account created", "id", id, "username", username, "role", role)
	return id, nil
}

func (a *Accounts) get(ctx context.Context, username string) (*Account, error) {
	var acct Account
	err := a.db.db.GetContext(ctx, &acct, `SELECT id,username,credential,role FROM accounts WHERE username=?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundErr("get account", username, "no such account")
	}
	if err != nil {
		return nil, storeErr("get account", username, err)
	}
	return &acct, nil
}
