package library

import "context"

// LibraryManager is a thin façade over the core components, keeping CLI code
// simple. Mutations run synchronously; LoadItems and LoadLedger run on the
// dispatcher and deliver through a callback.
type LibraryManager struct {
	db          *Database
	inventory   *Inventory
	ledger      *Ledger
	coordinator *Coordinator
	query       *QueryEngine
	dispatcher  *Dispatcher
	accounts    *Accounts
	log         Logger
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	db, err := NewDatabase(dbPath, o.logger)
	if err != nil {
		return nil, err
	}
	inv := NewInventory(db, o.logger)
	ledger := NewLedger(db, o.logger)
	return &LibraryManager{
		db:          db,
		inventory:   inv,
		ledger:      ledger,
		coordinator: NewCoordinator(db, inv, ledger, o.clock, o.logger),
		query:       NewQueryEngine(db, o.pageSize, o.logger),
		dispatcher:  NewDispatcher(o.workers, o.logger),
		accounts:    NewAccounts(db, o.bcryptCost, o.logger),
		log:         o.logger,
	}, nil
}

// Close stops background loads and closes the underlying database.
func (lm *LibraryManager) Close() error {
	lm.dispatcher.Close()
	return lm.db.Close()
}

// PageSize is the fixed ledger page size.
func (lm *LibraryManager) PageSize() int { return lm.query.PageSize() }

// ------------------ Inventory ------------------

func (lm *LibraryManager) AddItem(ctx context.Context, role Role, title, author string, status Status) (int64, error) {
	return lm.inventory.AddItem(ctx, role, title, author, status)
}

func (lm *LibraryManager) RemoveItem(ctx context.Context, role Role, title string) error {
	return lm.inventory.RemoveItem(ctx, role, title)
}

func (lm *LibraryManager) GetItem(ctx context.Context, title string) (*Item, error) {
	return lm.inventory.GetItem(ctx, title)
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) Borrow(ctx context.Context, account, title string) (LedgerEntry, error) {
	return lm.coordinator.Borrow(ctx, account, title)
}

func (lm *LibraryManager) Return(ctx context.Context, account, title string) (LedgerEntry, error) {
	return lm.coordinator.Return(ctx, account, title)
}

func (lm *LibraryManager) Toggle(ctx context.Context, s Session, title string) (Status, error) {
	return lm.coordinator.Toggle(ctx, s, title)
}

func (lm *LibraryManager) DeleteRecord(ctx context.Context, role Role, account, title string) (int, error) {
	return lm.coordinator.DeleteRecord(ctx, role, account, title)
}

func (lm *LibraryManager) OpenEntries(ctx context.Context, account, title string) ([]LedgerEntry, error) {
	return lm.ledger.OpenEntries(ctx, account, title)
}

func (lm *LibraryManager) Audit(ctx context.Context) ([]Anomaly, error) {
	return lm.coordinator.Audit(ctx)
}

// ------------------ Queries ------------------

func (lm *LibraryManager) SearchItems(ctx context.Context, search string) ([]Item, error) {
	return lm.query.SearchItems(ctx, search)
}

func (lm *LibraryManager) Ledger(ctx context.Context, q LedgerQuery) (LedgerPage, error) {
	return lm.query.Ledger(ctx, q)
}

// LoadItems searches the inventory in the background. Only the result of the
// most recent LoadItems call is delivered.
func (lm *LibraryManager) LoadItems(search string, deliver func(Result[[]Item])) (Ticket, error) {
	return Dispatch(lm.dispatcher, SlotInventory, func(ctx context.Context) ([]Item, error) {
		return lm.query.SearchItems(ctx, search)
	}, deliver)
}

// LoadLedger fetches a ledger page in the background. Only the result of the
// most recent LoadLedger call is delivered.
func (lm *LibraryManager) LoadLedger(q LedgerQuery, deliver func(Result[LedgerPage])) (Ticket, error) {
	return Dispatch(lm.dispatcher, SlotLedger, func(ctx context.Context) (LedgerPage, error) {
		return lm.query.Ledger(ctx, q)
	}, deliver)
}

// IsCurrent reports whether t is still the latest load for its slot.
func (lm *LibraryManager) IsCurrent(t Ticket) bool { return lm.dispatcher.IsCurrent(t) }

// AwaitLoad blocks until the load behind t has been delivered or superseded.
func (lm *LibraryManager) AwaitLoad(ctx context.Context, t Ticket) error {
	return lm.dispatcher.Await(ctx, t)
}

// WaitLoads blocks until every background load has finished.
func (lm *LibraryManager) WaitLoads() { lm.dispatcher.Wait() }

// ------------------ Accounts ------------------

func (lm *LibraryManager) Register(ctx context.Context, username, password string) (int64, error) {
	return lm.accounts.Register(ctx, username, password)
}

func (lm *LibraryManager) CreateAccount(ctx context.Context, caller Role, username, password string, role Role) (int64, error) {
	return lm.accounts.CreateAccount(ctx, caller, username, password, role)
}

func (lm *LibraryManager) ListAccounts(ctx context.Context, caller Role) ([]Account, error) {
	return lm.accounts.ListAccounts(ctx, caller)
}

func (lm *LibraryManager) Authenticate(ctx context.Context, username, password string) (Session, error) {
	return lm.accounts.Authenticate(ctx, username, password)
}

func (lm *LibraryManager) EnsureAdmin(ctx context.Context, username, password string) error {
	return lm.accounts.EnsureAdmin(ctx, username, password)
}

// ------------------ Export ------------------

// ExportPage writes the given ledger page to a CSV file at path.
func (lm *LibraryManager) ExportPage(path string, page LedgerPage) error {
	if err := ExportFile(path, page); err != nil {
		return &Error{Kind: ErrStore, Op: "export", Entity: path, Err: err}
	}
	lm.log.Info("ledger page exported", "path", path, "rows", len(page.Rows), "page", page.Page)
	return nil
}
