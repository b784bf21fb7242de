package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
)

// maxLineBytes bounds a single sentence line
const maxLineBytes = 1 << 20

// Reader yields corpus records one at a time. Next returns io.EOF at the end
// and *RecordError for a malformed record that can be skipped.
type Reader interface {
	Next() (Record, error)
	Close() error
}

// Open opens a corpus file in the format its extension names
func Open(path string) (Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus file: %w", err)
	}

	switch DetectFileFormat(path) {
	case FormatParquet:
		r, err := newParquetReader(file)
		if err != nil {
			return nil, err
		}
		return r, nil
	case FormatJSON:
		r, err := newJSONReader(file)
		if err != nil {
			return nil, err
		}
		return r, nil
	case FormatJSONL:
		return newJSONLReader(file), nil
	default:
		return newTextReader(file, file), nil
	}
}

// textReader reads one sentence per line. Spacing inside a line is kept
// exactly since it defines the words.
type textReader struct {
	closer  io.Closer
	scanner *bufio.Scanner
	line    int64
}

// NewTextReader reads one sentence per line from r. Closing the returned
// Reader does not close r.
func NewTextReader(r io.Reader) Reader {
	return newTextReader(r, nil)
}

func newTextReader(r io.Reader, closer io.Closer) *textReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &textReader{closer: closer, scanner: scanner}
}

func (r *textReader) Next() (Record, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return Record{}, fmt.Errorf("failed to read line %d: %w", r.line+1, err)
		}
		return Record{}, io.EOF
	}
	r.line++
	return Record{Sentence: strings.TrimSuffix(r.scanner.Text(), "\r")}, nil
}

func (r *textReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// jsonlReader reads one JSON object per line
type jsonlReader struct {
	textReader
}

func newJSONLReader(file *os.File) *jsonlReader {
	return &jsonlReader{textReader: *newTextReader(file, file)}
}

func (r *jsonlReader) Next() (Record, error) {
	for {
		line, err := r.textReader.Next()
		if err != nil {
			return Record{}, err
		}
		if strings.TrimSpace(line.Sentence) == "" {
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(line.Sentence), &record); err != nil {
			return Record{}, &RecordError{Line: r.line, Err: err}
		}
		return record, nil
	}
}

// jsonReader reads a JSON array of objects, or concatenated objects
type jsonReader struct {
	file    *os.File
	decoder *json.Decoder
	array   bool
	index   int64
}

func newJSONReader(file *os.File) (*jsonReader, error) {
	buffered := bufio.NewReader(file)
	r := &jsonReader{file: file}

	// Peek at the first non-space byte to tell an array from a stream
	for {
		b, err := buffered.Peek(1)
		if err != nil {
			if err == io.EOF {
				break
			}
			file.Close()
			return nil, fmt.Errorf("failed to read JSON corpus: %w", err)
		}
		if len(bytes.TrimSpace(b)) == 0 {
			_, _ = buffered.ReadByte()
			continue
		}
		r.array = b[0] == '['
		break
	}

	r.decoder = json.NewDecoder(buffered)
	if r.array {
		if _, err := r.decoder.Token(); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to read JSON corpus: %w", err)
		}
	}
	return r, nil
}

func (r *jsonReader) Next() (Record, error) {
	if r.array && !r.decoder.More() {
		return Record{}, io.EOF
	}

	var record Record
	if err := r.decoder.Decode(&record); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		// The decoder cannot resync after a syntax error
		return Record{}, fmt.Errorf("failed to decode JSON record %d: %w", r.index+1, err)
	}
	r.index++
	return record, nil
}

func (r *jsonReader) Close() error {
	return r.file.Close()
}

// parquetReader reads rows with a sentence column
type parquetReader struct {
	file   *os.File
	reader *parquet.Reader
}

func newParquetReader(file *os.File) (*parquetReader, error) {
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat Parquet file: %w", err)
	}
	// OpenFile reports a bad footer as an error; NewReader would panic
	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	return &parquetReader{file: file, reader: parquet.NewReader(pf)}, nil
}

func (r *parquetReader) Next() (Record, error) {
	var record Record
	if err := r.reader.Read(&record); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read Parquet record: %w", err)
	}
	return record, nil
}

func (r *parquetReader) Close() error {
	r.reader.Close()
	return r.file.Close()
}
