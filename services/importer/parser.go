package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

const defaultChunkSize = 1000

// chunkFunc receives one chunk of data rows. startRow is the 1-based row
// number of the chunk's first record; the header occupies row 1.
type chunkFunc func(header []string, startRow int, rows [][]string) error

// parseRows reads a CSV or XLSX import file and hands its data rows to fn
// in chunks of at most chunkSize. Fully empty rows are dropped.
func parseRows(r io.Reader, filename string, chunkSize int, fn chunkFunc) error {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return parseExcelRows(r, chunkSize, fn)
	case ".csv", ".txt":
		return parseCSVRows(r, chunkSize, fn)
	default:
		return fmt.Errorf("unsupported file type %q", filepath.Ext(filename))
	}
}

func parseCSVRows(r io.Reader, chunkSize int, fn chunkFunc) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return fmt.Errorf("file has no header row")
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	c := newChunker(header, chunkSize, fn)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read row: %w", err)
		}
		if err := c.add(record); err != nil {
			return err
		}
	}
	return c.flush()
}

func parseExcelRows(r io.Reader, chunkSize int, fn chunkFunc) error {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("file has no header row")
	}

	c := newChunker(rows[0], chunkSize, fn)
	for _, row := range rows[1:] {
		if err := c.add(row); err != nil {
			return err
		}
	}
	return c.flush()
}

// chunker buffers data rows and flushes them to fn in fixed-size chunks,
// numbering retained rows sequentially from 2.
type chunker struct {
	header []string
	size   int
	fn     chunkFunc
	rows   [][]string
	next   int
}

func newChunker(header []string, size int, fn chunkFunc) *chunker {
	return &chunker{
		header: header,
		size:   size,
		fn:     fn,
		rows:   make([][]string, 0, size),
		next:   2,
	}
}

func (c *chunker) add(record []string) error {
	if emptyRecord(record) {
		return nil
	}
	c.rows = append(c.rows, record)
	if len(c.rows) >= c.size {
		return c.flush()
	}
	return nil
}

func (c *chunker) flush() error {
	if len(c.rows) == 0 {
		return nil
	}
	start := c.next
	c.next += len(c.rows)
	rows := c.rows
	c.rows = make([][]string, 0, c.size)
	return c.fn(c.header, start, rows)
}

func emptyRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
