package library

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ImportReport summarises a catalog import.
type ImportReport struct {
	Added   []Item
	Skipped []ImportFailure
}

// ImportFailure is one catalog row that was not added.
type ImportFailure struct {
	Line  int
	Title string
	Err   error
}

// ImportCatalog adds every (title, author) row of a CSV catalog as an
// Available item. A leading "title,author" header and a UTF-8 byte order
// mark are accepted. Rows that fail validation or duplicate an existing title
// are reported and skipped; a store failure stops the import.
func (lm *LibraryManager) ImportCatalog(ctx context.Context, role Role, r io.Reader) (ImportReport, error) {
	const op = "import catalog"
	var report ImportReport
	if err := requireAdmin(op, role); err != nil {
		return report, err
	}

	cr := csv.NewReader(transform.NewReader(r, unicode.UTF8BOM.NewDecoder()))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	for first := true; ; first = false {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return report, validationErr(op, fmt.Sprintf("line %d", perr.StartLine), perr.Err.Error())
			}
			return report, validationErr(op, "", err.Error())
		}
		if first && isCatalogHeader(rec) {
			continue
		}
		// Quoted fields may span lines: report where the record starts.
		line, _ := cr.FieldPos(0)
		if len(rec) != 2 {
			report.Skipped = append(report.Skipped, ImportFailure{
				Line: line,
				Err:  validationErr(op, fmt.Sprintf("line %d", line), "expected title,author"),
			})
			continue
		}

		title, author := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])
		id, err := lm.inventory.AddItem(ctx, role, title, author, StatusAvailable)
		switch {
		case err == nil:
			report.Added = append(report.Added, Item{ID: id, Title: title, Author: author, Status: StatusAvailable})
		case errors.Is(err, ErrValidation), errors.Is(err, ErrConflict):
			report.Skipped = append(report.Skipped, ImportFailure{Line: line, Title: title, Err: err})
		default:
			return report, err
		}
	}
	lm.log.Info("catalog imported", "added", len(report.Added), "skipped", len(report.Skipped))
	return report, nil
}

func isCatalogHeader(rec []string) bool {
	return len(rec) == 2 &&
		strings.EqualFold(strings.TrimSpace(rec[0]), "title") &&
		strings.EqualFold(strings.TrimSpace(rec[1]), "author")
}
