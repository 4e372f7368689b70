package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/user/affiliate-ingest/internal/entity"
)

// maxContinuationLines bounds how far an open quote may extend a record
// before the opening line is rejected as malformed.
const maxContinuationLines = 50

var (
	errUnbalancedQuote = errors.New("unterminated quoted field")
	errInvalidEncoding = errors.New("invalid byte sequence for declared encoding")
)

// RowError describes a data row skipped during decode.
type RowError struct {
	Line int
	Err  error
}

// Table is a decoded artifact: its header and the rows that parsed.
type Table struct {
	Header   *Header
	Records  []RawRecord
	Rejected []RowError
}

func decoderFor(enc entity.Encoding) (encoding.Encoding, error) {
	switch enc {
	case entity.EncodingUTF8, entity.EncodingUTF8BOM:
		// UTF8BOM drops a leading byte-order mark when present.
		return unicode.UTF8BOM, nil
	case entity.EncodingShiftJIS:
		return japanese.ShiftJIS, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", enc)
}

// DecodeText converts data from enc to UTF-8.
func DecodeText(data []byte, enc entity.Encoding) (string, error) {
	e, err := decoderFor(enc)
	if err != nil {
		return "", &entity.DecodeError{Encoding: enc, Err: err}
	}
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), e.NewDecoder()))
	if err != nil {
		return "", &entity.DecodeError{Encoding: enc, Err: err}
	}
	return string(out), nil
}

// DecodeArtifact decodes a downloaded report under its declared encoding.
func DecodeArtifact(a entity.Artifact, delimiter rune) (*Table, error) {
	return Decode(a.Data, a.Encoding, delimiter)
}

// Decode interprets data under enc as delimited text whose first record is
// the header. Malformed rows are collected in Rejected; well-formed rows are
// never dropped because of a malformed neighbour.
func Decode(data []byte, enc entity.Encoding, delimiter rune) (*Table, error) {
	text, err := DecodeText(data, enc)
	if err != nil {
		return nil, err
	}
	table := &Table{}
	lines := splitLines(text)

	i := 0
	for i < len(lines) {
		start := i
		record, next, err := assemble(lines, i, delimiter)
		i = next
		if err != nil {
			if table.Header == nil {
				return nil, &entity.DecodeError{Encoding: enc, Err: fmt.Errorf("header: %w", err)}
			}
			table.Rejected = append(table.Rejected, RowError{Line: start + 1, Err: err})
			continue
		}
		if strings.TrimSpace(record) == "" {
			continue
		}
		fields, err := parseRecord(record, delimiter)
		if err == nil && containsInvalid(fields) {
			err = errInvalidEncoding
		}
		if table.Header == nil {
			if err != nil {
				return nil, &entity.DecodeError{Encoding: enc, Err: fmt.Errorf("header: %w", err)}
			}
			table.Header = NewHeader(fields)
			continue
		}
		if err != nil {
			table.Rejected = append(table.Rejected, RowError{Line: start + 1, Err: err})
			continue
		}
		if blank(fields) {
			continue
		}
		table.Records = append(table.Records, NewRawRecord(start+1, table.Header, fields))
	}
	return table, nil
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// assemble joins physical lines from i while a quoted field is still open,
// so quoted fields may span lines. It returns the record text and the next
// line index. An opening line whose quote never closes is rejected alone.
func assemble(lines []string, i int, delimiter rune) (string, int, error) {
	record := lines[i]
	if !openQuote(record, delimiter) {
		return record, i + 1, nil
	}
	for j := i + 1; j < len(lines) && j-i <= maxContinuationLines; j++ {
		record += "\n" + lines[j]
		if !openQuote(record, delimiter) {
			return record, j + 1, nil
		}
	}
	return "", i + 1, errUnbalancedQuote
}

// openQuote reports whether text ends inside a quoted field. Quotes inside
// unquoted fields do not open one.
func openQuote(text string, delimiter rune) bool {
	runes := []rune(text)
	quoted, fieldStart := false, true
	for k := 0; k < len(runes); k++ {
		c := runes[k]
		switch {
		case quoted:
			if c == '"' {
				if k+1 < len(runes) && runes[k+1] == '"' {
					k++
					continue
				}
				quoted = false
			}
		case c == delimiter || c == '\n':
			fieldStart = true
			continue
		case fieldStart && c == '"':
			quoted = true
		}
		fieldStart = false
	}
	return quoted
}

// parseRecord parses exactly one delimited record, strictly first and then
// with lazy quoting.
func parseRecord(text string, delimiter rune) ([]string, error) {
	fields, err := readOne(text, delimiter, false)
	if err == nil {
		return fields, nil
	}
	return readOne(text, delimiter, true)
}

func readOne(text string, delimiter rune, lazy bool) ([]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = lazy
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	if _, err := r.Read(); err != io.EOF {
		return nil, errors.New("record spans more than one row")
	}
	return fields, nil
}

func containsInvalid(fields []string) bool {
	for _, f := range fields {
		if !utf8.ValidString(f) || strings.ContainsRune(f, utf8.RuneError) {
			return true
		}
	}
	return false
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
