package importer

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// candidate delimiters, in sniff order. Anything fancier than this is out
// of scope; exports are machine-written.
var delimiters = []rune{';', ',', '\t'}

// SniffDelimiter picks the candidate that splits the header line into the
// most fields.
func SniffDelimiter(header string) rune {
	best := delimiters[0]
	bestCount := 0
	for _, d := range delimiters {
		if count := strings.Count(header, string(d)); count > bestCount {
			best = d
			bestCount = count
		}
	}
	return best
}

// ReadRows parses a delimiter-sniffed CSV export into row bags keyed by the
// header names. Short records are padded with empty cells rather than
// rejected; key validation happens in the normalizer.
func ReadRows(r io.Reader) ([]Row, error) {
	buffered := bufio.NewReader(r)
	header, err := buffered.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("empty export: no header line")
	}

	delim := SniffDelimiter(header)
	reader := csv.NewReader(io.MultiReader(strings.NewReader(header), buffered))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	columns, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	for i := range columns {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(columns[i], "\uFEFF"))
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse record %d: %w", len(rows)+2, err)
		}
		row := make(Row, len(columns))
		for i, name := range columns {
			if name == "" {
				continue
			}
			if i < len(record) {
				row[name] = record[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
