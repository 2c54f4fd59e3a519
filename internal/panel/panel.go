// Package panel reads and writes customer usage panels as CSV.
//
// The layout is one header row, then one row per customer: the customer ID
// followed by one count per period.
//
//	customer,2019-01,2019-02,2019-03
//	c-001,0,3,2
//	c-002,12,9,14
package panel

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/alexshd/commitfit"
)

// Panel is a loaded usage panel.
type Panel struct {
	Periods   []string // Period labels from the header
	Customers []string // Customer IDs, one per row
	Usage     [][]int  // Customers × periods
}

// Read parses a panel. Malformed cells are reported as *commitfit.InputError
// with zero-based data coordinates: Row counts customers (header excluded)
// and Col counts periods (ID column excluded).
func Read(r io.Reader) (*Panel, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &commitfit.InputError{Row: -1, Col: -1, Reason: "empty file"}
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, &commitfit.InputError{Row: -1, Col: -1, Reason: "header needs an ID column and at least one period"}
	}

	p := &Panel{Periods: append([]string(nil), header[1:]...)}
	width := len(header)
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}
		if len(rec) != width {
			return nil, &commitfit.InputError{Row: row, Col: -1, Reason: fmt.Sprintf("has %d fields, want %d", len(rec), width)}
		}

		counts := make([]int, width-1)
		for col, cell := range rec[1:] {
			v, reason := parseCount(cell)
			if reason != "" {
				return nil, &commitfit.InputError{Row: row, Col: col, Reason: reason}
			}
			counts[col] = v
		}
		p.Customers = append(p.Customers, rec[0])
		p.Usage = append(p.Usage, counts)
	}

	if len(p.Usage) == 0 {
		return nil, &commitfit.InputError{Row: -1, Col: -1, Reason: "no customer rows"}
	}
	return p, nil
}

// parseCount accepts non-negative integers, also written as whole floats
// ("3.0") as spreadsheet exports often do.
func parseCount(cell string) (int, string) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, "empty cell"
	}
	if v, err := strconv.Atoi(cell); err == nil {
		if v < 0 {
			return 0, fmt.Sprintf("negative count %d", v)
		}
		return v, ""
	}

	f, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Sprintf("%q is not a count", cell)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Sprintf("non-integer count %s", cell)
	}
	if f < 0 {
		return 0, fmt.Sprintf("negative count %s", cell)
	}
	if f > math.MaxInt32 {
		return 0, fmt.Sprintf("count %s out of range", cell)
	}
	return int(f), ""
}

// ReadFile reads the panel at path.
func ReadFile(path string) (*Panel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open panel: %w", err)
	}
	defer f.Close()

	p, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Write encodes p in the layout Read accepts. Missing labels are generated.
func Write(w io.Writer, p *Panel) error {
	if len(p.Usage) == 0 {
		return errors.New("empty panel")
	}
	periods := p.Periods
	if len(periods) == 0 {
		periods = make([]string, len(p.Usage[0]))
		for j := range periods {
			periods[j] = fmt.Sprintf("t%d", j)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"customer"}, periods...)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, len(periods)+1)
	for i, row := range p.Usage {
		if len(row) != len(periods) {
			return fmt.Errorf("row %d has %d periods, want %d", i, len(row), len(periods))
		}
		if i < len(p.Customers) {
			rec[0] = p.Customers[i]
		} else {
			rec[0] = fmt.Sprintf("c%04d", i)
		}
		for j, v := range row {
			rec[j+1] = strconv.Itoa(v)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
