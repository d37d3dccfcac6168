package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

// headerPattern matches the chunk header line. The host is tolerant about
// whitespace around the counts, so we are too.
var headerPattern = regexp.MustCompile(`^chunked\s+1\.0\s*,\s*(\d+)\s*,\s*(\d+)\s*\n$`)

// ReadChunk reads one complete chunk from r. Blank lines between chunks are
// skipped; the negotiation reply is followed by one on the wire. A clean end
// of stream returns io.EOF. A malformed header, a short metadata/body read,
// or undecodable metadata JSON is fatal and returns *FramingError or
// *MetadataError.
func ReadChunk(r *bufio.Reader) (*Chunk, error) {
	header := "\n"
	for header == "\n" {
		var err error
		header, err = r.ReadString('\n')
		if err != nil {
			if err == io.EOF && header == "" {
				return nil, io.EOF
			}
			return nil, &FramingError{Reason: "reading header line", Err: err}
		}
	}

	m := headerPattern.FindStringSubmatch(header)
	if m == nil {
		return nil, &FramingError{Reason: fmt.Sprintf("unrecognized header %q", header)}
	}

	metaLen, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, &FramingError{Reason: "parsing metadata length", Err: err}
	}
	bodyLen, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, &FramingError{Reason: "parsing body length", Err: err}
	}

	// Exact-count reads. The payload may contain anything, including
	// newlines; the declared lengths are the only authority.
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return nil, &FramingError{Reason: fmt.Sprintf("reading %d metadata bytes", metaLen), Err: err}
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, &FramingError{Reason: fmt.Sprintf("reading %d body bytes", bodyLen), Err: err}
	}

	chunk := &Chunk{Body: body}
	if metaLen > 0 {
		if err := json.Unmarshal(metaBytes, &chunk.Metadata); err != nil {
			return nil, &MetadataError{Err: err}
		}
	}
	return chunk, nil
}

// WriteChunk writes one chunk to w and flushes it. Metadata entries with nil
// values are dropped before encoding. If both the pruned metadata and the
// body are empty nothing is written; the host treats a zero/zero frame as
// noise and so do we.
func WriteChunk(w io.Writer, metadata map[string]any, body []byte) error {
	var metaBytes []byte
	if len(metadata) > 0 {
		pruned := make(map[string]any, len(metadata))
		for name, value := range metadata {
			if value == nil {
				continue
			}
			pruned[name] = value
		}
		if len(pruned) > 0 {
			var err error
			metaBytes, err = json.Marshal(pruned)
			if err != nil {
				return fmt.Errorf("encoding chunk metadata: %w", err)
			}
		}
	}

	if len(metaBytes) == 0 && len(body) == 0 {
		return nil
	}

	if _, err := fmt.Fprintf(w, "chunked 1.0,%d,%d\n", len(metaBytes), len(body)); err != nil {
		return fmt.Errorf("writing chunk header: %w", err)
	}
	if _, err := w.Write(metaBytes); err != nil {
		return fmt.Errorf("writing chunk metadata: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing chunk body: %w", err)
	}
	return flush(w)
}

// flush pushes buffered bytes to the pipe so the host never stalls waiting
// for a chunk we consider sent.
func flush(w io.Writer) error {
	type flusher interface{ Flush() error }
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flushing chunk: %w", err)
		}
	}
	return nil
}
