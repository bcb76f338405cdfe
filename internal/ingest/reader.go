package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mangalm/sales-backend/internal/types"
)

// RowReader streams one upload file as raw string rows. The header row is
// consumed at open time; Next returns data rows only and io.EOF at the end.
// Implementations do not pad or truncate ragged rows; that is the column
// mapping's job, so the raggedness can be recorded as a warning.
type RowReader interface {
	Header() []string
	Next() ([]string, error)
	Close() error
}

// utf8BOM is stripped from the head of delimited text files if present.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SniffFormat decides csv vs xlsx from the file name, falling back to the
// xlsx (zip) magic bytes for extensionless uploads.
func SniffFormat(fileName string, head []byte) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm", ".xls":
		return types.FileFormatXLSX
	case ".csv", ".txt", ".tsv":
		return types.FileFormatCSV
	}
	if len(head) >= 2 && head[0] == 'P' && head[1] == 'K' {
		return types.FileFormatXLSX
	}
	return types.FileFormatCSV
}

// OpenFile opens path as the declared format and positions the reader past
// the header row.
func OpenFile(path, format string) (RowReader, error) {
	switch format {
	case types.FileFormatXLSX:
		return openXLSX(path)
	case types.FileFormatCSV:
		return openCSV(path)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// Skip discards n data rows, used to restart a reader at a chunk offset.
// Malformed rows inside the skipped range still surface as errors: a chunk
// must not silently jump over a structural break.
func Skip(r RowReader, n int64) error {
	for i := int64(0); i < n; i++ {
		if _, err := r.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
	}
	return nil
}

// PreScan counts data rows and returns the header without keeping anything
// in memory, so totalRows is known before the first chunk is queued.
func PreScan(path, format string) (header []string, totalRows int64, err error) {
	r, err := OpenFile(path, format)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()
	for {
		_, nerr := r.Next()
		if errors.Is(nerr, io.EOF) {
			break
		}
		if nerr != nil {
			return nil, 0, nerr
		}
		totalRows++
	}
	return r.Header(), totalRows, nil
}

type csvReader struct {
	f      *os.File
	cr     *csv.Reader
	header []string
	line   int64
}

func openCSV(path string) (RowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	br := bufio.NewReaderSize(f, 64*1024)
	if head, perr := br.Peek(len(utf8BOM)); perr == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	cr := csv.NewReader(br)
	// Ragged widths are tolerated downstream; broken quoting is not.
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = false

	r := &csvReader{f: f, cr: cr}
	header, err := r.Next()
	if err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			return nil, &MalformedFileError{Wrapped: fmt.Errorf("empty file")}
		}
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	r.header = header
	return r, nil
}

func (r *csvReader) Header() []string { return r.header }

func (r *csvReader) Next() ([]string, error) {
	rec, err := r.cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, &MalformedFileError{Line: int64(perr.Line), Wrapped: err}
		}
		return nil, &MalformedFileError{Wrapped: err}
	}
	r.line++
	return rec, nil
}

func (r *csvReader) Close() error { return r.f.Close() }

type xlsxReader struct {
	f      *excelize.File
	rows   *excelize.Rows
	header []string
}

func openXLSX(path string) (RowReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &MalformedFileError{Wrapped: fmt.Errorf("open xlsx: %w", err)}
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, &MalformedFileError{Wrapped: fmt.Errorf("workbook has no sheets")}
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, &MalformedFileError{Wrapped: fmt.Errorf("iterate sheet %q: %w", sheets[0], err)}
	}
	r := &xlsxReader{f: f, rows: rows}
	header, err := r.Next()
	if err != nil {
		_ = r.Close()
		if errors.Is(err, io.EOF) {
			return nil, &MalformedFileError{Wrapped: fmt.Errorf("empty workbook")}
		}
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	r.header = header
	return r, nil
}

func (r *xlsxReader) Header() []string { return r.header }

func (r *xlsxReader) Next() ([]string, error) {
	if !r.rows.Next() {
		if err := r.rows.Error(); err != nil {
			return nil, &MalformedFileError{Wrapped: err}
		}
		return nil, io.EOF
	}
	cols, err := r.rows.Columns()
	if err != nil {
		return nil, &MalformedFileError{Wrapped: err}
	}
	return cols, nil
}

func (r *xlsxReader) Close() error {
	cerr := r.rows.Close()
	ferr := r.f.Close()
	if cerr != nil {
		return cerr
	}
	return ferr
}
