package library

import "time"

// Status is the availability of a circulating item.
type Status string

const (
	StatusAvailable Status = "Available"
	StatusBorrowed  Status = "Borrowed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusAvailable || s == StatusBorrowed
}

// Role is the access level of an account.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleGuest Role = "guest"
)

// Item is one circulating unit of the catalog (a book).
type Item struct {
	ID     int64  `json:"id" db:"id"`
	Title  string `json:"title" db:"title"`
	Author string `json:"author" db:"author"`
	Status Status `json:"status" db:"status"`
}

// LedgerEntry is one borrow event. DateReturned is nil while the entry is open.
type LedgerEntry struct {
	ID           int64      `json:"id"`
	Account      string     `json:"account"`
	ItemTitle    string     `json:"item_title"`
	DateTaken    time.Time  `json:"date_taken"`
	DateReturned *time.Time `json:"date_returned,omitempty"`
}

// Open reports whether the entry has no return timestamp.
func (e LedgerEntry) Open() bool { return e.DateReturned == nil }

// Account is a registered user. The credential is a bcrypt hash.
type Account struct {
	ID         int64  `json:"id" db:"id"`
	Username   string `json:"username" db:"username"`
	Credential string `json:"-" db:"credential"`
	Role       Role   `json:"role" db:"role"`
}

// Session is the (identity, role) pair a caller acts under.
type Session struct {
	ID      string `json:"id"`
	Account string `json:"account"`
	Role    Role   `json:"role"`
}

// IsAdmin reports whether the session carries the admin role.
func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

// StatusFilter restricts ledger queries by open/closed state.
type StatusFilter string

const (
	FilterAll    StatusFilter = "all"
	FilterOpen   StatusFilter = "open"
	FilterClosed StatusFilter = "closed"
)

// LedgerQuery describes one page of a ledger search.
type LedgerQuery struct {
	Search   string
	Filter   StatusFilter
	Page     int
	PageSize int
}

// LedgerPage is one page of ledger rows plus what is needed to navigate.
type LedgerPage struct {
	Rows     []LedgerEntry `json:"rows"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	HasMore  bool          `json:"has_more"`
}

// NotReturned is shown in place of a missing return date.
const NotReturned = "not returned"

// ExportRecord is one fixed-width row handed to the export collaborator.
type ExportRecord [4]string

// Records renders the page as ordered export records.
func (p LedgerPage) Records() []ExportRecord {
	out := make([]ExportRecord, 0, len(p.Rows))
	for _, e := range p.Rows {
		returned := NotReturned
		if e.DateReturned != nil {
			returned = FormatTime(*e.DateReturned)
		}
		out = append(out, ExportRecord{e.Account, e.ItemTitle, FormatTime(e.DateTaken), returned})
	}
	return out
}

// Anomaly is an item whose status disagrees with its open ledger entries.
type Anomaly struct {
	Title       string `json:"title"`
	Status      Status `json:"status"`
	OpenEntries int    `json:"open_entries"`
}
