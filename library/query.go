package library

import (
	"context"
	"math"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
)

const (
	// DefaultPageSize is the ledger page size unless configured otherwise.
	DefaultPageSize = 20

	tableItems  = "items"
	tableLedger = "ledger"

	colID           = "id"
	colTitle        = "title"
	colAuthor       = "author"
	colStatus       = "status"
	colAccount      = "account"
	colItemTitle    = "item_title"
	colDateTaken    = "date_taken"
	colDateReturned = "date_returned"

	// containsFold matches when the column contains the folded needle.
	containsFold = "instr(casefold(?), ?) > 0"
)

// dialect renders prepared statements: every user value becomes a bound
// parameter, never part of the query text.
var dialect = goqu.Dialect("sqlite3")

// QueryEngine answers read-only searches over items and the ledger.
type QueryEngine struct {
	db       *Database
	log      Logger
	pageSize int
}

// NewQueryEngine returns an engine with the given fixed ledger page size.
func NewQueryEngine(db *Database, pageSize int, logger Logger) *QueryEngine {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &QueryEngine{db: db, log: logger, pageSize: pageSize}
}

// PageSize is the page size used when a query does not set one.
func (q *QueryEngine) PageSize() int { return q.pageSize }

// SearchItems returns items whose title or author contains search, ignoring
// case, in insertion order. An empty search returns every item.
func (q *QueryEngine) SearchItems(ctx context.Context, search string) ([]Item, error) {
	const op = "search items"
	ds := dialect.From(tableItems).Prepared(true).
		Select(colID, colTitle, colAuthor, colStatus).
		Order(goqu.C(colID).Asc())
	if search != "" {
		needle := casefold(search)
		ds = ds.Where(goqu.Or(
			goqu.L(containsFold, goqu.C(colTitle), needle),
			goqu.L(containsFold, goqu.C(colAuthor), needle),
		))
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, storeErr(op, search, err)
	}
	q.log.Debug("executed sql for: "+op, "query", query)

	items := make([]Item, 0)
	if err := q.db.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, storeErr(op, search, err)
	}
	return items, nil
}

// Ledger returns one page of ledger rows, newest first. Search matches the
// account or the item title; filter and search are combined with AND.
func (q *QueryEngine) Ledger(ctx context.Context, lq LedgerQuery) (LedgerPage, error) {
	const op = "ledger query"
	if lq.Page < 0 {
		return LedgerPage{}, validationErr(op, "", "page index must not be negative")
	}
	size := lq.PageSize
	if size <= 0 {
		size = q.pageSize
	}
	where, err := ledgerConditions(lq)
	if err != nil {
		return LedgerPage{}, err
	}

	base := dialect.From(tableLedger).Prepared(true).Where(where...)
	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return LedgerPage{}, storeErr(op, lq.Search, err)
	}

	// An index whose offset does not fit in an int lies past any possible
	// result: only the count is read.
	var pageSQL string
	var pageArgs []interface{}
	if lq.Page <= (math.MaxInt-size)/size {
		pageSQL, pageArgs, err = base.
			Select(colID, colAccount, colItemTitle, colDateTaken, colDateReturned).
			Order(goqu.C(colDateTaken).Desc(), goqu.C(colID).Desc()).
			Limit(uint(size)).
			Offset(uint(lq.Page * size)).
			ToSQL()
		if err != nil {
			return LedgerPage{}, storeErr(op, lq.Search, err)
		}
		q.log.Debug("executed sql for: "+op, "query", pageSQL)
	}

	var (
		total int
		rows  []ledgerRow
	)
	err = q.db.readTx(ctx, op, func(tx DBTX) error {
		if err := tx.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
			return err
		}
		if pageSQL == "" {
			return nil
		}
		return tx.SelectContext(ctx, &rows, pageSQL, pageArgs...)
	})
	if err != nil {
		return LedgerPage{}, err
	}
	entries, err := toEntries(rows)
	if err != nil {
		return LedgerPage{}, storeErr(op, lq.Search, err)
	}
	return LedgerPage{
		Rows:     entries,
		Total:    total,
		Page:     lq.Page,
		PageSize: size,
		HasMore:  total > 0 && lq.Page < (total-1)/size,
	}, nil
}

func ledgerConditions(lq LedgerQuery) ([]exp.Expression, error) {
	var where []exp.Expression
	if lq.Search != "" {
		needle := casefold(lq.Search)
		where = append(where, goqu.Or(
			goqu.L(containsFold, goqu.C(colAccount), needle),
			goqu.L(containsFold, goqu.C(colItemTitle), needle),
		))
	}
	switch lq.Filter {
	case "", FilterAll:
	case FilterOpen:
		where = append(where, goqu.C(colDateReturned).IsNull())
	case FilterClosed:
		where = append(where, goqu.C(colDateReturned).IsNotNull())
	default:
		return nil, validationErr("ledger query", string(lq.Filter), "unknown status filter")
	}
	return where, nil
}

// ParseStatusFilter maps user input to a StatusFilter, ignoring case and
// surrounding blanks.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterOpen, FilterClosed:
		return f, nil
	}
	return "", validationErr("parse filter", s, "expected all, open or closed")
}
