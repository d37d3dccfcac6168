package engine

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/mattjoyce/searchplug/internal/mvfield"
	"github.com/mattjoyce/searchplug/internal/options"
)

// Phase markers of the original single-phase protocol. The host conveys the
// phase positionally in argv instead of in chunk metadata, and both phases
// run in separate processes.
const (
	legacyGetinfo = "__GETINFO__"
	legacyExecute = "__EXECUTE__"
)

// legacyPhase returns the phase marker found in argv, or "".
func legacyPhase(args []string) string {
	if len(args) < 2 {
		return ""
	}
	switch args[1] {
	case legacyGetinfo, legacyExecute:
		return args[1]
	}
	return ""
}

// runLegacy handles a protocol-1 invocation: getinfo renders the settings as
// a two-row CSV, execute reads the header-prefixed CSV input, runs the kind
// callback and writes the result CSV. There is no chunking and no inspector;
// errors surface as an ERROR result table, which is what the old host
// displays to the search user.
func (e *Engine) runLegacy(phase string, args []string, in io.Reader, out io.Writer) error {
	rest := args[2:]
	mapPhase := false
	if e.def.Kind == Reporting && len(rest) > 0 && rest[0] == mapPhaseMarker {
		mapPhase = true
		rest = rest[1:]
	}

	opts, err := newOptionSet(e.def)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", e.def.Name, err)
	}
	fieldnames, invErrs := options.Parse(opts, rest)
	if missing := opts.Missing(); len(missing) > 0 {
		invErrs = append(invErrs, options.MissingError(missing))
	}
	if len(invErrs) > 0 {
		e.logger.Error("legacy invocation rejected", "phase", phase, "errors", len(invErrs))
		if werr := writeLegacyErrors(out, invErrs); werr != nil {
			return werr
		}
		return fmt.Errorf("plugin %s: rejected with %d argument error(s)", e.def.Name, len(invErrs))
	}

	inv := &Invocation{
		Name:       e.def.Name,
		Fieldnames: fieldnames,
		Options:    opts,
		Settings:   e.frozen,
		Logger:     e.logger,
		writer:     NewRecordWriter(io.Discard, 0),
	}

	if phase == legacyGetinfo {
		if e.def.Kind == Reporting && !mapPhase && e.def.Map != nil {
			if serr := e.frozen.Set("streaming_preop", preop(e.def.Name, rest)); serr != nil {
				e.logger.Error("setting streaming_preop", "error", serr)
			}
		}
		return writeLegacySettings(out, inv)
	}
	return e.runLegacyExecute(inv, mapPhase, in, out)
}

func (e *Engine) runLegacyExecute(inv *Invocation, mapPhase bool, in io.Reader, out io.Writer) (err error) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("plugin panicked", "panic", p)
			err = fmt.Errorf("plugin %s panicked: %v", e.def.Name, p)
		}
	}()

	body, err := readLegacyInput(in)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	records, err := decodeRecords(body)
	if err != nil {
		return fmt.Errorf("decoding input: %w", err)
	}

	recs := e.dispatch(inv, sliceRecords(records), mapPhase)
	if recs == nil {
		return nil
	}
	return writeLegacyRecords(out, recs)
}

// readLegacyInput skips the "name:value" header lines the old host prefixes
// to the CSV body. The header ends at the first blank line; input with no
// header at all is accepted as a bare body.
func readLegacyInput(in io.Reader) ([]byte, error) {
	r := bufio.NewReader(in)
	var header []string
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF && line == "" {
			return nil, nil
		}
		if err != nil && err != io.EOF {
			return nil, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if !strings.Contains(trimmed, ":") {
			// No header at all; the line is the CSV header row.
			rest, rerr := io.ReadAll(r)
			if rerr != nil {
				return nil, rerr
			}
			return append([]byte(line), rest...), nil
		}
		header = append(header, trimmed)
		if err == io.EOF {
			return nil, nil
		}
	}
	return io.ReadAll(r)
}

// writeLegacyRecords renders the output CSV directly, companions interleaved
// the same way the chunked writer does it.
func writeLegacyRecords(out io.Writer, recs Records) error {
	w := csv.NewWriter(out)
	w.UseCRLF = true

	var base []string
	for rec := range recs {
		if base == nil {
			base = rec.Fields()
			header := make([]string, 0, 2*len(base))
			for _, name := range base {
				header = append(header, name, mvfield.CompanionPrefix+name)
			}
			if err := w.Write(header); err != nil {
				return fmt.Errorf("writing header row: %w", err)
			}
		}
		row := make([]string, 0, 2*len(base))
		for _, name := range base {
			primary, companion, err := encodeValue(rec.Get(name))
			if err != nil {
				return fmt.Errorf("encoding field %q: %w", name, err)
			}
			row = append(row, primary, companion)
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing record row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// writeLegacySettings renders the getinfo reply: one row of setting names,
// one row of values, protocol-1 view of the matrix.
func writeLegacySettings(out io.Writer, inv *Invocation) error {
	items := inv.Settings.Render(1)
	names := make([]string, len(items))
	values := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
		values[i] = legacySettingValue(item.Value)
	}

	w := csv.NewWriter(out)
	w.UseCRLF = true
	if err := w.Write(names); err != nil {
		return err
	}
	if err := w.Write(values); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func legacySettingValue(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "t"
		}
		return "f"
	case []string:
		return strings.Join(t, ",")
	default:
		return fmt.Sprint(t)
	}
}

// writeLegacyErrors renders rejected arguments as an ERROR result table,
// the old host's convention for surfacing messages to the search user.
func writeLegacyErrors(out io.Writer, errs []error) error {
	w := csv.NewWriter(out)
	w.UseCRLF = true
	if err := w.Write([]string{"ERROR"}); err != nil {
		return err
	}
	for _, e := range errs {
		if err := w.Write([]string{e.Error()}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
