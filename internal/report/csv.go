package report

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes the table with a header row. Every row must have exactly
// one cell per column; a mismatch is a bug in the table builder, not a
// per-record condition, so it fails the write.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(t.Columns))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
