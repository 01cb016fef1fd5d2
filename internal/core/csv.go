package core

// csv.go decodes uploaded product files.
//
// Input bytes pass through a golang.org/x/text transformer before the CSV
// parser sees them: a UTF-8, UTF-16LE or UTF-16BE byte order mark selects
// that encoding and is stripped, and BOM-less input must be valid UTF-8.
// Invalid UTF-8 surfaces as a read error, which fails the job.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Column names the ingestion pipeline reads. Header matching ignores case and
// surrounding whitespace.
const (
	ColumnSKU         = "sku"
	ColumnName        = "name"
	ColumnDescription = "description"
	ColumnPrice       = "price"
)

// NewCSVReader returns a csv.Reader over r that tolerates ragged rows and
// stray quotes. Records are reused between Read calls.
func NewCSVReader(r io.Reader) *csv.Reader {
	decoded := transform.NewReader(r, unicode.BOMOverride(encoding.UTF8Validator))

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	return cr
}

// CountRows returns the number of data rows in r, excluding the header.
// An empty input has zero rows.
func CountRows(r io.Reader) (int, error) {
	cr := NewCSVReader(r)

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("read header: %w", err)
	}

	n := 0
	for {
		_, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read row %d: %w", n+1, err)
		}
		n++
	}
}

// HeaderIndex maps a lower-cased column name to every position it occupies.
// A file may carry both "SKU" and "sku"; the first non-empty one wins.
type HeaderIndex map[string][]int

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		idx[key] = append(idx[key], i)
	}
	return idx
}

// Has reports whether the header carries the column.
func (h HeaderIndex) Has(column string) bool {
	return len(h[column]) > 0
}

// Get returns the first non-blank value of column in record, trimmed.
// Missing columns and short rows yield "".
func (h HeaderIndex) Get(record []string, column string) string {
	for _, i := range h[column] {
		if i >= len(record) {
			continue
		}
		if v := strings.TrimSpace(record[i]); v != "" {
			return v
		}
	}
	return ""
}

// Upsert builds the product write for one record. ok is false when the record
// has no usable SKU and must be skipped. An unparseable price becomes NULL.
func (h HeaderIndex) Upsert(record []string) (u ProductUpsert, ok bool) {
	sku := h.Get(record, ColumnSKU)
	if sku == "" {
		return ProductUpsert{}, false
	}

	return ProductUpsert{
		SKU:         sku,
		Name:        ToPgText(h.Get(record, ColumnName)),
		Description: ToPgText(h.Get(record, ColumnDescription)),
		Price:       ToPgNumeric(h.Get(record, ColumnPrice)),
	}, true
}
