// Package ingest turns raw delimited sources into typed rows, diverting rows
// that do not line up with the header into a quarantine set.
package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
)

const Delimiter = ','

// Row gives by-name access to the fields of one aligned record.
type Row struct {
	Line    int
	columns map[string]int
	fields  []string
}

// Get returns the trimmed value of column, or "" when the column is absent.
func (r Row) Get(column string) string {
	idx, ok := r.columns[column]
	if !ok || idx >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[idx])
}

// Schema describes one source: its required and optional columns and how an
// aligned row becomes a record.
type Schema[T any] struct {
	Source   string
	Required []string
	Optional []string
	Build    func(Row) T
}

// Batch is the loader output for one source.
type Batch[T any] struct {
	Source      string
	Header      []string
	Records     []T
	Quarantined []domain.QuarantinedRow
}

// RowsRead is every data row seen, aligned or not.
func (b Batch[T]) RowsRead() int {
	return len(b.Records) + len(b.Quarantined)
}

// OpenSource opens path, mapping a missing file to domain.ErrMissingSource.
func OpenSource(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMissingSource, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// Load reads every row of r. Rows whose field count differs from the header, or
// that the tokenizer rejects, are quarantined and never repaired. Only a missing
// header, a missing required column or an I/O failure is returned as an error.
//
// Sources carry no multi-line fields, so each physical line is tokenized on its
// own and an unbalanced quote cannot absorb the lines that follow it.
func Load[T any](ctx context.Context, r io.Reader, schema Schema[T]) (Batch[T], error) {
	batch := Batch[T]{Source: schema.Source}
	lines := &lineReader{r: bufio.NewReader(r)}

	var header []string
	for header == nil {
		text, err := lines.next()
		if errors.Is(err, io.EOF) {
			return batch, fmt.Errorf("%s: %w", schema.Source, domain.ErrMissingHeader)
		}
		if err != nil {
			return batch, fmt.Errorf("%s: read header: %w", schema.Source, err)
		}
		header, err = tokenize(text)
		if errors.Is(err, io.EOF) {
			continue
		}
		if err != nil {
			return batch, fmt.Errorf("%s: read header: %w", schema.Source, err)
		}
	}
	columns, normalized := indexHeader(header)
	batch.Header = normalized
	for _, col := range schema.Required {
		if _, ok := columns[col]; !ok {
			return batch, fmt.Errorf("%s: %w: %s", schema.Source, domain.ErrMissingColumn, col)
		}
	}

	expected := len(header)
	for {
		if err := ctx.Err(); err != nil {
			return batch, err
		}

		text, err := lines.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return batch, fmt.Errorf("%s: read: %w", schema.Source, err)
		}

		fields, err := tokenize(text)
		if errors.Is(err, io.EOF) {
			continue
		}
		if err != nil {
			batch.Quarantined = append(batch.Quarantined, domain.QuarantinedRow{
				Source:             schema.Source,
				LineNumber:         lines.line,
				FieldCount:         len(fields),
				ExpectedFieldCount: expected,
				Reason:             "malformed row: " + parseReason(err),
				Raw:                text,
			})
			continue
		}

		if len(fields) != expected {
			batch.Quarantined = append(batch.Quarantined, domain.QuarantinedRow{
				Source:             schema.Source,
				LineNumber:         lines.line,
				FieldCount:         len(fields),
				ExpectedFieldCount: expected,
				Reason:             fmt.Sprintf("unexpected field count: got %d, expected %d", len(fields), expected),
				Raw:                strings.Join(fields, string(Delimiter)),
			})
			continue
		}

		batch.Records = append(batch.Records, schema.Build(Row{
			Line:    lines.line,
			columns: columns,
			fields:  fields,
		}))
	}

	return batch, nil
}

// lineReader yields physical lines and tracks the 1-based number of the last
// one returned.
type lineReader struct {
	r    *bufio.Reader
	line int
}

func (l *lineReader) next() (string, error) {
	text, err := l.r.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || text == "") {
		return "", err
	}
	l.line++
	return strings.TrimRight(text, "\r\n"), nil
}

// tokenize splits one physical line. A blank line yields io.EOF.
func tokenize(text string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader.Read()
}

func parseReason(err error) string {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Err.Error()
	}
	return err.Error()
}

func indexHeader(header []string) (map[string]int, []string) {
	columns := make(map[string]int, len(header))
	normalized := make([]string, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.ToLower(strings.TrimSpace(name))
		normalized[i] = name
		if name == "" {
			continue
		}
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}
	return columns, normalized
}
