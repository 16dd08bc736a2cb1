package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/NikNeym510/library-app/library"
)

func printItems(w io.Writer, items []library.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No items found.")
		return
	}
	fmt.Fprintf(w, "%-5s %-40s %-25s %-10s\n", "ID", "Title", "Author", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 83))
	for _, it := range items {
		fmt.Fprintf(w, "%-5d %-40s %-25s %-10s\n",
			it.ID,
			truncateString(it.Title, 40),
			truncateString(it.Author, 25),
			it.Status)
	}
}

func printLedgerPage(w io.Writer, p library.LedgerPage) {
	if len(p.Rows) == 0 {
		fmt.Fprintln(w, "No ledger records.")
	} else {
		fmt.Fprintf(w, "%-20s %-35s %-20s %-20s\n", "Account", "Title", "Date taken", "Date returned")
		fmt.Fprintln(w, strings.Repeat("-", 98))
		for _, r := range p.Records() {
			fmt.Fprintf(w, "%-20s %-35s %-20s %-20s\n",
				truncateString(r[0], 20),
				truncateString(r[1], 35),
				r[2],
				r[3])
		}
	}
	pages := 1
	if p.PageSize > 0 && p.Total > 0 {
		pages = (p.Total + p.PageSize - 1) / p.PageSize
	}
	more := ""
	if p.HasMore {
		more = ", more available"
	}
	fmt.Fprintf(w, "Page %d of %d (%d records%s)\n", p.Page+1, pages, p.Total, more)
}

func printAccounts(w io.Writer, accounts []library.Account) {
	if len(accounts) == 0 {
		fmt.Fprintln(w, "No accounts registered.")
		return
	}
	fmt.Fprintf(w, "%-5s %-30s %-6s\n", "ID", "Username", "Role")
	fmt.Fprintln(w, strings.Repeat("-", 43))
	for _, acc := range accounts {
		fmt.Fprintf(w, "%-5d %-30s %-6s\n", acc.ID, truncateString(acc.Username, 30), acc.Role)
	}
}

func printAnomalies(w io.Writer, anomalies []library.Anomaly) {
	if len(anomalies) == 0 {
		fmt.Fprintln(w, "Ledger and inventory agree.")
		return
	}
	fmt.Fprintf(w, "%-40s %-10s %s\n", "Title", "Status", "Open entries")
	fmt.Fprintln(w, strings.Repeat("-", 64))
	for _, an := range anomalies {
		fmt.Fprintf(w, "%-40s %-10s %d\n", truncateString(an.Title, 40), an.Status, an.OpenEntries)
	}
}

// truncateString shortens s to maxLength runes, marking the cut with "...".
func truncateString(s string, maxLength int) string {
	r := []rune(s)
	if len(r) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(r[:maxLength])
	}
	return string(r[:maxLength-3]) + "..."
}
