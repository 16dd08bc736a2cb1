package main

import (
	"fmt"

	"github.com/NikNeym510/library-app/library"

	"github.com/spf13/cobra"
)

func newRegisterCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register <username>",
		Short: "Create a guest account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := a.readPassword(fmt.Sprintf("Choose a password for %s: ", args[0]))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			id, err := a.mgr.Register(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered '%s' with ID %d\n", args[0], id)
			return nil
		},
	}
}

func newItemsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "items", Short: "Manage the catalog"}

	add := &cobra.Command{
		Use:   "add <title> <author>",
		Short: "Add an item (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			id, err := a.mgr.AddItem(cmd.Context(), s.Role, args[0], args[1], library.StatusAvailable)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added item ID %d\n", id)
			return nil
		},
	}

	var yes bool
	remove := &cobra.Command{
		Use:   "remove <title>",
		Short: "Remove an item (admin); its ledger history is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			if !a.confirm(fmt.Sprintf("Remove '%s'?", args[0]), yes) {
				fmt.Fprintln(a.out, "Cancelled.")
				return nil
			}
			if err := a.mgr.RemoveItem(cmd.Context(), s.Role, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Removed '%s'\n", args[0])
			return nil
		},
	}
	remove.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	list := &cobra.Command{
		Use:   "list [search]",
		Short: "List items whose title or author contains search",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var search string
			if len(args) == 1 {
				search = args[0]
			}
			items, err := a.mgr.SearchItems(cmd.Context(), search)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(items)
			}
			printItems(a.out, items)
			return nil
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func newBorrowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow <title>",
		Short: "Borrow an item as the logged-in account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := a.mgr.Borrow(cmd.Context(), s.Account, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "'%s' borrowed by %s at %s\n", entry.ItemTitle, entry.Account, library.FormatTime(entry.DateTaken))
			return nil
		},
	}
}

func newReturnCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "return <title>",
		Short: "Return an item borrowed by the logged-in account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := a.mgr.Return(cmd.Context(), s.Account, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "'%s' returned by %s at %s\n", entry.ItemTitle, entry.Account, library.FormatTime(*entry.DateReturned))
			return nil
		},
	}
}

func newToggleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <title>",
		Short: "Borrow the item if available, return it otherwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			status, err := a.mgr.Toggle(cmd.Context(), s, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "'%s' is now %s\n", args[0], status)
			return nil
		},
	}
}

func newLedgerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Query and maintain the lending ledger"}

	var (
		search string
		filter string
		page   int
	)
	query := func() (library.LedgerQuery, error) {
		f, err := library.ParseStatusFilter(filter)
		if err != nil {
			return library.LedgerQuery{}, err
		}
		return library.LedgerQuery{Search: search, Filter: f, Page: page}, nil
	}
	addQueryFlags := func(c *cobra.Command) {
		c.Flags().StringVarP(&search, "search", "s", "", "match account or title (case-insensitive)")
		c.Flags().StringVarP(&filter, "filter", "f", "all", "all, open or closed")
		c.Flags().IntVarP(&page, "page", "p", 0, "page index, starting at 0")
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show one page of the ledger, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := query()
			if err != nil {
				return err
			}
			p, err := a.mgr.Ledger(cmd.Context(), q)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(p)
			}
			printLedgerPage(a.out, p)
			return nil
		},
	}
	addQueryFlags(list)

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write one page of the ledger to a CSV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := query()
			if err != nil {
				return err
			}
			p, err := a.mgr.Ledger(cmd.Context(), q)
			if err != nil {
				return err
			}
			if out == "" {
				out = a.cfg.ExportPath
			}
			if err := a.mgr.ExportPage(out, p); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Exported %d rows to %s\n", len(p.Rows), out)
			return nil
		},
	}
	addQueryFlags(export)
	export.Flags().StringVarP(&out, "out", "o", "", "destination file (default from config)")

	var yes bool
	del := &cobra.Command{
		Use:   "delete <account> <title>",
		Short: "Delete every ledger record of an account and title (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			if !s.IsAdmin() {
				return &library.Error{Kind: library.ErrPermission, Op: "delete ledger record", Msg: "admin role required"}
			}
			if !a.confirm(fmt.Sprintf("Delete ledger records of %s for '%s'?", args[0], args[1]), yes) {
				fmt.Fprintln(a.out, "Cancelled.")
				return nil
			}
			n, err := a.mgr.DeleteRecord(cmd.Context(), s.Role, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted %d record(s)\n", n)
			return nil
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	cmd.AddCommand(list, export, del)
	return cmd
}

func newAccountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "accounts", Short: "Manage accounts (admin)"}

	var role string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account with the given role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			password, err := a.readPassword(fmt.Sprintf("Password for new account %s: ", args[0]))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			id, err := a.mgr.CreateAccount(cmd.Context(), s.Role, args[0], password, library.Role(role))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created %s account '%s' with ID %d\n", role, args[0], id)
			return nil
		},
	}
	add.Flags().StringVar(&role, "role", string(library.RoleGuest), "admin or guest")

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := a.mgr.ListAccounts(cmd.Context(), s.Role)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(accounts)
			}
			printAccounts(a.out, accounts)
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that every item's status matches its open ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			anomalies, err := a.mgr.Audit(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(anomalies)
			}
			printAnomalies(a.out, anomalies)
			if len(anomalies) > 0 {
				return &library.Error{Kind: library.ErrConflict, Op: "doctor", Msg: fmt.Sprintf("%d item(s) disagree with the ledger", len(anomalies))}
			}
			return nil
		},
	}
}

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			sh := newShell(a, s)
			return sh.run(cmd.Context())
		},
	}
}
