package csvio

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Header is the first line of every recipient export
var Header = []string{"Address", "Amount"}

// WriteRecipients writes the recipients as Address,Amount lines after the header
func WriteRecipients(w io.Writer, recipients []domain.Recipient) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range recipients {
		if err := cw.Write([]string{r.Address, r.Amount}); err != nil {
			return fmt.Errorf("failed to write recipient %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Source yields recipient rows from CSV content.
// The header line is optional. Every call to Rows parses from the start.
type Source struct {
	data []byte
}

// NewSource creates a Source over a copy of data
func NewSource(data []byte) *Source {
	return &Source{data: bytes.Clone(data)}
}

// ReadSource reads r fully and returns a Source over its content
func ReadSource(r io.Reader) (*Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipients: %w", err)
	}
	return &Source{data: data}, nil
}

// Rows implements domain.RecipientSource
func (s *Source) Rows() iter.Seq2[domain.ImportRow, error] {
	return func(yield func(domain.ImportRow, error) bool) {
		cr := csv.NewReader(bytes.NewReader(s.data))
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true

		first := true
		for {
			record, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				// csv.ParseError already names the line
				yield(domain.ImportRow{}, fmt.Errorf("failed to parse recipients: %w", err))
				return
			}
			line, _ := cr.FieldPos(0)

			if first {
				first = false
				if isHeader(record) {
					continue
				}
			}

			if len(record) != 2 {
				yield(domain.ImportRow{Line: line}, fmt.Errorf("line %d: expected 2 fields, got %d", line, len(record)))
				return
			}

			row := domain.ImportRow{
				Line:    line,
				Address: strings.TrimSpace(record[0]),
				Amount:  strings.TrimSpace(record[1]),
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

func isHeader(record []string) bool {
	return len(record) == 2 &&
		strings.EqualFold(strings.TrimSpace(record[0]), Header[0]) &&
		strings.EqualFold(strings.TrimSpace(record[1]), Header[1])
}
