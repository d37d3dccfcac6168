package engine

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/mattjoyce/searchplug/internal/mvfield"
	"github.com/mattjoyce/searchplug/internal/protocol"
)

// ErrClosed is returned by writer operations after the finished flush. The
// conversation with the host is over at that point; late writes are plugin
// bugs, not recoverable conditions.
var ErrClosed = errors.New("record writer is closed")

// RecordWriter buffers outgoing records as CSV and emits them as chunks.
// The first record of each batch fixes the column order; reaching the
// negotiated row threshold triggers a partial flush so memory stays bounded
// on large results.
type RecordWriter struct {
	out           io.Writer
	maxResultRows int

	buffer     bytes.Buffer
	csv        *csv.Writer
	fieldnames []string // batch columns, companions interleaved
	base       []string // batch columns without companions
	count      int
	closed     bool

	inspector Inspector
}

// NewRecordWriter wraps out, flushing every maxResultRows buffered records.
// A non-positive threshold disables count-based flushing.
func NewRecordWriter(out io.Writer, maxResultRows int) *RecordWriter {
	w := &RecordWriter{out: out, maxResultRows: maxResultRows}
	w.csv = csv.NewWriter(&w.buffer)
	w.csv.UseCRLF = true
	return w
}

// Inspector returns the side-channel rider for the next flush.
func (w *RecordWriter) Inspector() *Inspector { return &w.inspector }

// WriteRecord buffers one record. The first record of a batch writes the
// header row; every field gets a multi-value companion column so mixed
// scalar and multi-value batches stay rectangular. Records missing a header
// field emit empty cells for it.
func (w *RecordWriter) WriteRecord(rec *Record) error {
	if w.closed {
		return fmt.Errorf("writing record: %w", ErrClosed)
	}

	if w.fieldnames == nil {
		w.base = rec.Fields()
		w.fieldnames = make([]string, 0, 2*len(w.base))
		for _, name := range w.base {
			w.fieldnames = append(w.fieldnames, name, mvfield.CompanionPrefix+name)
		}
		if err := w.csv.Write(w.fieldnames); err != nil {
			return fmt.Errorf("writing header row: %w", err)
		}
	}

	row := make([]string, 0, len(w.fieldnames))
	for _, name := range w.base {
		primary, companion, err := encodeValue(rec.Get(name))
		if err != nil {
			return fmt.Errorf("encoding field %q: %w", name, err)
		}
		row = append(row, primary, companion)
	}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("writing record row: %w", err)
	}

	w.count++
	if w.maxResultRows > 0 && w.count >= w.maxResultRows {
		return w.Flush(false, true)
	}
	return nil
}

// Flush emits the buffered batch as one chunk carrying the finished and
// partial flags plus any queued inspector content, then resets the batch.
// With nothing buffered and neither flag set it is a no-op. The finished
// flush closes the writer.
func (w *RecordWriter) Flush(finished, partial bool) error {
	if w.closed {
		return fmt.Errorf("flushing records: %w", ErrClosed)
	}

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("encoding record batch: %w", err)
	}

	if w.buffer.Len() == 0 && w.inspector.Empty() && !finished && !partial {
		return nil
	}

	metadata := map[string]any{"finished": finished}
	if partial {
		metadata["partial"] = true
	}
	if insp := w.inspector.metadata(); insp != nil {
		metadata["inspector"] = insp
	}

	err := protocol.WriteChunk(w.out, metadata, w.buffer.Bytes())

	w.buffer.Reset()
	w.fieldnames = nil
	w.base = nil
	w.count = 0
	w.inspector.reset()
	if finished {
		w.closed = true
	}
	if err != nil {
		return fmt.Errorf("flushing records: %w", err)
	}
	return nil
}

// WriteMetadata emits a records-free chunk carrying meta plus any queued
// inspector content, followed by the separator newline the host expects
// after a negotiation reply.
func (w *RecordWriter) WriteMetadata(meta map[string]any) error {
	if w.closed {
		return fmt.Errorf("writing metadata: %w", ErrClosed)
	}

	merged := make(map[string]any, len(meta)+1)
	for name, value := range meta {
		merged[name] = value
	}
	if insp := w.inspector.metadata(); insp != nil {
		merged["inspector"] = insp
	}
	w.inspector.reset()

	if err := protocol.WriteChunk(w.out, merged, nil); err != nil {
		return fmt.Errorf("writing metadata chunk: %w", err)
	}
	if _, err := io.WriteString(w.out, "\n"); err != nil {
		return fmt.Errorf("writing metadata separator: %w", err)
	}
	return flushOut(w.out)
}

func flushOut(w io.Writer) error {
	type flusher interface{ Flush() error }
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// encodeValue renders one field value as its primary cell and, for
// multi-value fields, the encoded companion cell.
func encodeValue(v Value) (primary, companion string, err error) {
	switch t := v.(type) {
	case nil:
		return "", "", nil
	case string:
		return t, "", nil
	case bool:
		if t {
			return "t", "", nil
		}
		return "f", "", nil
	case int:
		return strconv.Itoa(t), "", nil
	case int64:
		return strconv.FormatInt(t, 10), "", nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), "", nil
	case []string:
		primary, companion, multi := mvfield.Encode(t)
		if !multi {
			companion = ""
		}
		return primary, companion, nil
	case []any:
		items := make([]string, len(t))
		for i, item := range t {
			s, _, err := encodeValue(item)
			if err != nil {
				return "", "", err
			}
			items[i] = s
		}
		primary, companion, multi := mvfield.Encode(items)
		if !multi {
			companion = ""
		}
		return primary, companion, nil
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return "", "", fmt.Errorf("unsupported value type %T: %w", v, err)
		}
		return string(encoded), "", nil
	}
}
