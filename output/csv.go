package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/timeseries"
	"github.com/gocarina/gocsv"
)

const valueColumn = "value"

// renameHeader renames one column of the first row written through it.
type renameHeader struct {
	gocsv.CSVWriter
	from, to string
	done     bool
}

func (w *renameHeader) Write(row []string) error {
	if !w.done {
		w.done = true
		for i, col := range row {
			if col == w.from {
				row[i] = w.to
			}
		}
	}
	return w.CSVWriter.Write(row)
}

// TableName is the file name of the table of one site and variable, e.g. ATTO_LST.csv.
func TableName(site, variable string) string {
	return fmt.Sprintf("%s_%s.csv", site, variable)
}

// WriteCSV writes records with the value column named after the variable.
func WriteCSV(path, variable string, records []timeseries.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create table directory: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("error creating CSV file: %w", err)
	}

	w := &renameHeader{CSVWriter: csv.NewWriter(file), from: valueColumn, to: variable}
	if err := gocsv.MarshalCSV(&records, w); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("error writing CSV file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// renameColumns renames one column of the header row read through it.
type renameColumns struct {
	gocsv.CSVReader
	from, to string
}

func (r *renameColumns) ReadAll() ([][]string, error) {
	rows, err := r.CSVReader.ReadAll()
	if err != nil || len(rows) == 0 {
		return rows, err
	}
	for i, col := range rows[0] {
		if col == r.from {
			rows[0][i] = r.to
		}
	}
	return rows, nil
}

// ReadCSV reads a table written by WriteCSV.
func ReadCSV(path, variable string) ([]timeseries.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []timeseries.Record
	r := &renameColumns{CSVReader: csv.NewReader(file), from: variable, to: valueColumn}
	if err := gocsv.UnmarshalCSV(r, &records); err != nil {
		return nil, fmt.Errorf("error reading CSV file: %w", err)
	}
	return records, nil
}
