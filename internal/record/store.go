// Package record persists loan entries to a flat CSV table kept sorted by
// start date.
package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	appLog "loanbook/internal/log"
	"loanbook/internal/model"
)

// FileName is the table's file name inside the data directory.
const FileName = "Loan_Data.csv"

// Header is the first row of the table.
var Header = []string{"Start Date", "End Date", "Name", "Company", "Item Loaned"}

// Store appends entries to the table at Path. Every append rewrites the
// whole file; there is no locking, so a Store must have a single writer.
type Store struct {
	Path string
}

// NewStore returns a store for <dataDir>/Loan_Data.csv.
func NewStore(dataDir string) *Store {
	return &Store{Path: filepath.Join(dataDir, FileName)}
}

// LoadOrEmpty reads every row of the table. A missing file is an empty
// table, not an error.
func (s *Store) LoadOrEmpty() ([]model.LoanEntry, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.LoanEntry{}, nil
		}
		return nil, fmt.Errorf("record: open %s: %w", s.Path, err)
	}
	defer f.Close()

	entries, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("record: read %s: %w", s.Path, err)
	}
	return entries, nil
}

// Append adds entry to the table, re-sorts it by start date and rewrites the
// file through a temp file + rename in the same directory.
func (s *Store) Append(entry model.LoanEntry) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("record: create %s: %w", dir, err)
	}

	entries, err := s.LoadOrEmpty()
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	Sort(entries)

	if err := writeAtomic(s.Path, entries); err != nil {
		return fmt.Errorf("record: write %s: %w", s.Path, err)
	}

	appLog.Info("record appended", "path", s.Path, "rows", len(entries), "name", entry.Name)
	return nil
}

// Sort orders entries ascending by start date, rows without a start date
// last, keeping insertion order among equal keys.
func Sort(entries []model.LoanEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start.Before(entries[j].Start)
	})
}

func decode(r io.Reader) ([]model.LoanEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	// Skip header row.
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return []model.LoanEntry{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	entries := make([]model.LoanEntry, 0)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 1 && row[0] == "" {
			continue
		}
		entries = append(entries, fromRow(row))
	}
	return entries, nil
}

func fromRow(row []string) model.LoanEntry {
	cell := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	return model.LoanEntry{
		Start:   model.ParseDate(cell(0)),
		End:     model.ParseDate(cell(1)),
		Name:    cell(2),
		Company: cell(3),
		Item:    cell(4),
	}
}

func toRow(e model.LoanEntry) []string {
	return []string{e.Start.Cell(), e.End.Cell(), e.Name, e.Company, e.Item}
}

func encode(w io.Writer, entries []model.LoanEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write(toRow(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeAtomic(path string, entries []model.LoanEntry) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".loan-data-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// No-op after a successful rename.
	defer os.Remove(tmpName)

	if err := encode(tmp, entries); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
