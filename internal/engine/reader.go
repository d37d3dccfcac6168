package engine

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/mattjoyce/searchplug/internal/mvfield"
)

// decodeRecords parses a chunk body into records. The body is a CSV document
// whose header row names the columns; companion columns are folded back into
// their primary field as multi-values and never surface as fields of their
// own. An empty body yields no records.
func decodeRecords(body []byte) ([]*Record, error) {
	if len(body) == 0 {
		return nil, nil
	}

	r := csv.NewReader(bytes.NewReader(body))
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading record header: %w", err)
	}

	companions := make(map[string]int, len(header))
	for i, name := range header {
		if strings.HasPrefix(name, mvfield.CompanionPrefix) {
			companions[strings.TrimPrefix(name, mvfield.CompanionPrefix)] = i
		}
	}

	var records []*Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading record row: %w", err)
		}

		rec := NewRecord()
		for i, name := range header {
			if strings.HasPrefix(name, mvfield.CompanionPrefix) {
				continue
			}
			if ci, ok := companions[name]; ok && ci < len(row) && row[ci] != "" {
				rec.Set(name, mvfield.Decode(row[ci]))
				continue
			}
			rec.Set(name, row[i])
		}
		records = append(records, rec)
	}
}
