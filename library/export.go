package library

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ExportHeader is the first row of every export.
var ExportHeader = ExportRecord{"Account", "Title", "Date taken", "Date returned"}

// WriteCSV writes records as UTF-8 CSV with a byte order mark so spreadsheet
// software picks the right encoding.
func WriteCSV(w io.Writer, records []ExportRecord) error {
	tw := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(tw)
	if err := cw.Write(ExportHeader[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range records {
		if err := cw.Write(records[i][:]); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return tw.Close()
}

// ExportFile writes the page to path, replacing any existing file.
func ExportFile(path string, page LedgerPage) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := WriteCSV(f, page.Records()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
