package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// missingMarkers are cell values read as NaN. "." is Stata's missing value.
var missingMarkers = map[string]bool{
	"":    true,
	".":   true,
	"NA":  true,
	"NaN": true,
	"nan": true,
}

// LoadCSV loads a CSV file with a header row of column names into a Frame.
func LoadCSV(path string) (*Frame, error) {
	// 1. Open file
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	frame, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}

// ReadCSV reads CSV records from r into a Frame.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	// 2. Read header row
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("empty header: %w", ErrEmpty)
	}
	K := len(header)

	cols := make([][]float64, K)
	row := 0

	// 3. Read each data row
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+2, err) // +2 for header + 1-based
		}

		// Skip completely empty lines
		if len(record) == 1 && record[0] == "" {
			continue
		}

		if len(record) != K {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d: %w", row+2, K, len(record), ErrColumnLength)
		}

		for j, s := range record {
			s = strings.TrimSpace(s)
			if missingMarkers[s] {
				cols[j] = append(cols[j], math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("parse float at row %d col %d (%q): %w", row+2, j+1, s, err)
			}
			cols[j] = append(cols[j], v)
		}
		row++
	}

	if row == 0 {
		return nil, fmt.Errorf("no data rows: %w", ErrEmpty)
	}

	names := make([]string, K)
	for j, h := range header {
		names[j] = strings.TrimSpace(h)
	}
	return New(names, cols)
}
