package docstore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// csvHeader is the fixed column layout of a persisted store.
var csvHeader = []string{"id", "source_id", "title", "section", "snippet"}

// ErrInvalidHeader is returned when a loaded file does not start with the
// expected column header.
var ErrInvalidHeader = errors.New("docstore: invalid csv header")

// WriteTo writes the store as CSV to w. Rows are ordered by id so the output
// is deterministic for identical contents.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	records := s.snapshot()

	ids := make([]uint64, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cw := newCountingWriter(w)
	writer := csv.NewWriter(cw)

	if err := writer.Write(csvHeader); err != nil {
		return cw.n, fmt.Errorf("write header: %w", err)
	}

	for _, id := range ids {
		record := records[id]
		row := []string{
			strconv.FormatUint(id, 10),
			record.SourceID,
			record.Title,
			record.Section,
			record.Snippet,
		}
		if err := writer.Write(row); err != nil {
			return cw.n, fmt.Errorf("write record %d: %w", id, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return cw.n, fmt.Errorf("flush csv: %w", err)
	}

	return cw.n, nil
}

// ReadFrom loads CSV from r and replaces the store's contents. On any parse
// error the store is left unchanged.
func (s *Store) ReadFrom(r io.Reader) (int64, error) {
	cr := newCountingReader(r)
	reader := csv.NewReader(cr)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return cr.n, fmt.Errorf("read header: %w", err)
	}

	if !equalHeader(header) {
		return cr.n, fmt.Errorf("%w: %v", ErrInvalidHeader, header)
	}

	// Every data row must match the header's column count.
	reader.FieldsPerRecord = len(csvHeader)

	records := make(map[uint64]Record)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return cr.n, fmt.Errorf("read record: %w", err)
		}

		id, err := strconv.ParseUint(row[0], 10, 64)
		if err != nil {
			return cr.n, fmt.Errorf("parse id %q: %w", row[0], err)
		}

		if _, ok := records[id]; ok {
			return cr.n, fmt.Errorf("duplicate id %d", id)
		}

		records[id] = Record{
			SourceID: row[1],
			Title:    row[2],
			Section:  row[3],
			Snippet:  row[4],
		}
	}

	s.replace(records)

	return cr.n, nil
}

// SaveToFile writes the store to a CSV file at path. The write goes through
// a temporary file in the same directory and a rename, so the path never
// holds a partially written file.
func (s *Store) SaveToFile(path string) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := s.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	tmpPath = ""

	return nil
}

// LoadFromFile replaces the store's contents with the records in the CSV
// file at path. A failed load leaves the previous contents in place.
func (s *Store) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer f.Close()

	if _, err := s.ReadFrom(f); err != nil {
		return err
	}

	return nil
}

func equalHeader(header []string) bool {
	if len(header) != len(csvHeader) {
		return false
	}
	for i := range csvHeader {
		if header[i] != csvHeader[i] {
			return false
		}
	}
	return true
}

type countingWriter struct {
	w io.Writer
	n int64
}

func newCountingWriter(w io.Writer) *countingWriter {
	return &countingWriter{w: w}
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func newCountingReader(r io.Reader) *countingReader {
	return &countingReader{r: r}
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
