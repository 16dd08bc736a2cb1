package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/NikNeym510/library-app/library"
)

// shell is the interactive front end. Views are refreshed through the
// manager's background loads; the prompt returns once the latest load has
// been delivered.
type shell struct {
	app     *app
	session library.Session

	itemSearch string
	query      library.LedgerQuery

	mu   sync.Mutex
	page library.LedgerPage
}

func newShell(a *app, s library.Session) *shell {
	return &shell{app: a, session: s, query: library.LedgerQuery{Filter: library.FilterAll}}
}

func (sh *shell) run(ctx context.Context) error {
	a := sh.app
	fmt.Fprintf(a.out, "Welcome, %s (%s).\n", sh.session.Account, sh.session.Role)
	sh.printHelp()
	sh.reloadItems(ctx)
	sh.reloadLedger(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, ok := a.prompt("\n> ")
		if !ok {
			return nil
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch strings.ToLower(cmd) {
		case "items":
			sh.itemSearch = arg
			sh.reloadItems(ctx)
		case "ledger":
			sh.query.Search = arg
			sh.query.Page = 0
			sh.reloadLedger(ctx)
		case "filter":
			sh.handleFilter(ctx, arg)
		case "next":
			sh.handleNext(ctx)
		case "prev":
			sh.handlePrev(ctx)
		case "add":
			sh.handleAddItem(ctx)
		case "remove":
			sh.handleRemoveItem(ctx, arg)
		case "borrow":
			sh.handleBorrow(ctx, arg)
		case "return":
			sh.handleReturn(ctx, arg)
		case "toggle":
			sh.handleToggle(ctx, arg)
		case "delete":
			sh.handleDeleteRecord(ctx)
		case "export":
			sh.handleExport(arg)
		case "doctor":
			sh.handleDoctor(ctx)
		case "logout":
			if err := sh.handleLogout(ctx); err != nil {
				return err
			}
		case "help":
			sh.printHelp()
		case "exit", "quit":
			fmt.Fprintln(a.out, "Goodbye!")
			return nil
		case "":
		default:
			fmt.Fprintln(a.out, "Unknown command. Type 'help' to see the available commands.")
		}
	}
}

func (sh *shell) printHelp() {
	w := sh.app.out
	fmt.Fprintln(w, "Available commands:")
	fmt.Fprintln(w, "  Views:       items [search], ledger [search], filter all|open|closed, next, prev")
	fmt.Fprintln(w, "  Circulation: borrow <title>, return <title>, toggle <title>")
	fmt.Fprintln(w, "  Admin:       add, remove <title>, delete, doctor")
	fmt.Fprintln(w, "  Session:     export [path], logout, help, exit")
}

// reloadItems issues a fresh inventory load and waits for that load only.
func (sh *shell) reloadItems(ctx context.Context) {
	a := sh.app
	t, err := a.mgr.LoadItems(sh.itemSearch, func(r library.Result[[]library.Item]) {
		if r.Err != nil {
			fmt.Fprintf(a.out, "Error loading items: %v\n", r.Err)
			return
		}
		printItems(a.out, r.Value)
	})
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	sh.await(ctx, t)
}

// reloadLedger issues a fresh ledger load for the current query and waits
// for that load only.
func (sh *shell) reloadLedger(ctx context.Context) {
	a := sh.app
	t, err := a.mgr.LoadLedger(sh.query, func(r library.Result[library.LedgerPage]) {
		if r.Err != nil {
			fmt.Fprintf(a.out, "Error loading ledger: %v\n", r.Err)
			return
		}
		sh.mu.Lock()
		sh.page = r.Value
		sh.mu.Unlock()
		printLedgerPage(a.out, r.Value)
	})
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	sh.await(ctx, t)
}

func (sh *shell) await(ctx context.Context, t library.Ticket) {
	if err := sh.app.mgr.AwaitLoad(ctx, t); err != nil {
		fmt.Fprintf(sh.app.out, "Error: %v\n", err)
	}
}

func (sh *shell) currentPage() library.LedgerPage {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.page
}

func (sh *shell) handleFilter(ctx context.Context, arg string) {
	f, err := library.ParseStatusFilter(arg)
	if err != nil {
		fmt.Fprintf(sh.app.out, "Error: %v\n", err)
		return
	}
	sh.query.Filter = f
	sh.query.Page = 0
	sh.reloadLedger(ctx)
}

func (sh *shell) handleNext(ctx context.Context) {
	if !sh.currentPage().HasMore {
		fmt.Fprintln(sh.app.out, "Already on the last page.")
		return
	}
	sh.query.Page++
	sh.reloadLedger(ctx)
}

func (sh *shell) handlePrev(ctx context.Context) {
	if sh.query.Page == 0 {
		fmt.Fprintln(sh.app.out, "Already on the first page.")
		return
	}
	sh.query.Page--
	sh.reloadLedger(ctx)
}

func (sh *shell) handleAddItem(ctx context.Context) {
	a := sh.app
	title, ok := a.prompt("Title: ")
	if !ok {
		return
	}
	author, ok := a.prompt("Author: ")
	if !ok {
		return
	}
	id, err := a.mgr.AddItem(ctx, sh.session.Role, title, author, library.StatusAvailable)
	if err != nil {
		fmt.Fprintf(a.out, "Error adding item: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "Added item ID %d\n", id)
	sh.reloadItems(ctx)
}

func (sh *shell) handleRemoveItem(ctx context.Context, title string) {
	a := sh.app
	if title == "" {
		var ok bool
		if title, ok = a.prompt("Title: "); !ok {
			return
		}
	}
	if !a.confirm(fmt.Sprintf("Remove '%s'?", title), false) {
		fmt.Fprintln(a.out, "Cancelled.")
		return
	}
	if err := a.mgr.RemoveItem(ctx, sh.session.Role, title); err != nil {
		fmt.Fprintf(a.out, "Error removing item: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "Removed '%s'\n", title)
	sh.reloadItems(ctx)
}

func (sh *shell) handleBorrow(ctx context.Context, title string) {
	a := sh.app
	entry, err := a.mgr.Borrow(ctx, sh.session.Account, title)
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "'%s' borrowed at %s\n", entry.ItemTitle, library.FormatTime(entry.DateTaken))
	sh.reloadItems(ctx)
	sh.reloadLedger(ctx)
}

func (sh *shell) handleReturn(ctx context.Context, title string) {
	a := sh.app
	entry, err := a.mgr.Return(ctx, sh.session.Account, title)
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "'%s' returned at %s\n", entry.ItemTitle, library.FormatTime(*entry.DateReturned))
	sh.reloadItems(ctx)
	sh.reloadLedger(ctx)
}

func (sh *shell) handleToggle(ctx context.Context, title string) {
	a := sh.app
	status, err := a.mgr.Toggle(ctx, sh.session, title)
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "'%s' is now %s\n", title, status)
	sh.reloadItems(ctx)
	sh.reloadLedger(ctx)
}

func (sh *shell) handleDeleteRecord(ctx context.Context) {
	a := sh.app
	if !sh.session.IsAdmin() {
		fmt.Fprintln(a.out, "Error: only administrators can delete ledger records.")
		return
	}
	account, ok := a.prompt("Account: ")
	if !ok {
		return
	}
	title, ok := a.prompt("Title: ")
	if !ok {
		return
	}
	if !a.confirm(fmt.Sprintf("Delete ledger records of %s for '%s'?", account, title), false) {
		fmt.Fprintln(a.out, "Cancelled.")
		return
	}
	n, err := a.mgr.DeleteRecord(ctx, sh.session.Role, account, title)
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "Deleted %d record(s)\n", n)
	sh.reloadItems(ctx)
	sh.reloadLedger(ctx)
}

func (sh *shell) handleExport(path string) {
	a := sh.app
	if path == "" {
		path = a.cfg.ExportPath
	}
	page := sh.currentPage()
	if err := a.mgr.ExportPage(path, page); err != nil {
		fmt.Fprintf(a.out, "Error exporting: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "Exported %d rows to %s\n", len(page.Rows), path)
}

func (sh *shell) handleDoctor(ctx context.Context) {
	anomalies, err := sh.app.mgr.Audit(ctx)
	if err != nil {
		fmt.Fprintf(sh.app.out, "Error: %v\n", err)
		return
	}
	printAnomalies(sh.app.out, anomalies)
}

// handleLogout drops the session and asks for new credentials. Failing to
// log back in ends the shell.
func (sh *shell) handleLogout(ctx context.Context) error {
	a := sh.app
	fmt.Fprintf(a.out, "Logged out %s.\n", sh.session.Account)
	a.log.Info("session closed", "session", sh.session.ID, "account", sh.session.Account)
	sh.session = library.Session{}
	a.user = ""
	s, err := a.login(ctx)
	if err != nil {
		return err
	}
	sh.session = s
	fmt.Fprintf(a.out, "Welcome, %s (%s).\n", s.Account, s.Role)
	return nil
}
