package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/austarch/austarch-db/internal/archive"
)

// sniffSize is how much of a file is inspected to pick the delimiter.
const sniffSize = 4096

// Row is one data record keyed by canonical column name. Columns missing
// from the file, or from a short record, read as "".
type Row struct {
	File   string
	Line   int
	Fields map[string]string
}

func (r Row) Get(col string) string {
	return strings.TrimSpace(r.Fields[col])
}

// Reader yields Rows from a comma or tab delimited file with a header line.
type Reader struct {
	name    string
	csv     *csv.Reader
	columns []string
	unknown []string
}

// NewReader reads the header. A tab anywhere in the first 4 KiB selects tab
// as the delimiter; a UTF-8 byte order mark is dropped.
func NewReader(r io.Reader, name string) (*Reader, error) {
	br := bufio.NewReaderSize(r, sniffSize)
	head, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("%s: read: %w", name, err)
	}
	if bytes.HasPrefix(head, []byte("\ufeff")) {
		if _, err := br.Discard(len("\ufeff")); err != nil {
			return nil, fmt.Errorf("%s: read: %w", name, err)
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	if bytes.IndexByte(head, '\t') >= 0 {
		cr.Comma = '\t'
	}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: file is empty", name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: header: %w", name, err)
	}

	rd := &Reader{name: name, csv: cr, columns: make([]string, len(header))}
	seen := map[string]bool{}
	for i, h := range header {
		col := canonicalColumn(h)
		switch {
		case col == "":
			if strings.TrimSpace(h) != "" {
				rd.unknown = append(rd.unknown, strings.TrimSpace(h))
			}
		case seen[col]:
			// first occurrence wins
		default:
			seen[col] = true
			rd.columns[i] = col
		}
	}
	if !seen[ColSite] || !seen[ColLabCode] {
		return nil, fmt.Errorf("%s: header must contain %s and %s columns", name, ColSite, ColLabCode)
	}
	return rd, nil
}

func (r *Reader) Name() string { return r.name }

// UnknownColumns lists header cells outside the documented column set.
func (r *Reader) UnknownColumns() []string { return r.unknown }

// Next returns the next record, or io.EOF. A record the CSV layer cannot
// parse is returned as a *archive.MalformedRecordError and reading may
// continue.
func (r *Reader) Next() (Row, error) {
	rec, err := r.csv.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return Row{}, &archive.MalformedRecordError{File: r.name, Line: pe.StartLine, Reason: pe.Err.Error()}
		}
		return Row{}, err
	}
	line, _ := r.csv.FieldPos(0)

	row := Row{File: r.name, Line: line, Fields: make(map[string]string, len(r.columns))}
	for i, v := range rec {
		if i >= len(r.columns) || r.columns[i] == "" {
			continue
		}
		row.Fields[r.columns[i]] = v
	}
	return row, nil
}
