package engine

import (
	"bufio"
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/mattjoyce/searchplug/internal/options"
	"github.com/mattjoyce/searchplug/internal/protocol"
)

// mapPhaseMarker is the leading argument the host inserts when running the
// distributed pre-phase of a two-phase reporting search.
const mapPhaseMarker = "__map__"

// Run drives one invocation end to end: negotiation on the first chunk,
// then the execute exchange until the host signals finished. A legacy
// single-phase argument vector is detected and routed to the legacy path.
// The returned error, when non-nil, means the process should exit non-zero;
// a final flush toward the host has already been attempted.
func (e *Engine) Run(args []string, in io.Reader, out io.Writer) error {
	if phase := legacyPhase(args); phase != "" {
		return e.runLegacy(phase, args, in, out)
	}
	return e.runChunked(in, out)
}

func (e *Engine) runChunked(in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	w := bufio.NewWriter(out)

	chunk, err := protocol.ReadChunk(r)
	if err != nil {
		e.logger.Error("negotiation read failed", "error", err)
		return fmt.Errorf("reading getinfo chunk: %w", err)
	}
	// A bare metadata-less first chunk still negotiates: the host has asked
	// for capabilities, just with nothing to say. Any other action is fatal.
	if action := chunk.Action(); action != protocol.ActionGetinfo && len(chunk.Metadata) > 0 {
		e.logger.Error("protocol violation", "expected", protocol.ActionGetinfo, "got", action)
		return fmt.Errorf("expected %s, host sent action %q", protocol.ActionGetinfo, action)
	}
	if len(chunk.Body) > 0 {
		e.logger.Error("protocol violation", "reason", "getinfo chunk carried a body")
		return fmt.Errorf("getinfo chunk carried %d body bytes", len(chunk.Body))
	}

	info := chunk.SearchInfo()
	maxRows := info.MaxResultRows
	if maxRows <= 0 {
		maxRows = e.rt.Config.Limits.MaxResultRows
	}
	writer := NewRecordWriter(w, maxRows)

	args := info.Args
	mapPhase := false
	if e.def.Kind == Reporting && len(args) > 0 && args[0] == mapPhaseMarker {
		mapPhase = true
		args = args[1:]
	}

	opts, err := newOptionSet(e.def)
	if err != nil {
		// New already validated the templates; this cannot happen past it.
		return fmt.Errorf("plugin %s: %w", e.def.Name, err)
	}
	fieldnames, invErrs := options.Parse(opts, args)
	if missing := opts.Missing(); len(missing) > 0 {
		invErrs = append(invErrs, options.MissingError(missing))
	}

	inv := &Invocation{
		Name:       e.def.Name,
		Fieldnames: fieldnames,
		Options:    opts,
		Settings:   e.frozen,
		SearchInfo: info,
		Logger:     e.logger.With("sid", info.Sid),
		writer:     writer,
	}

	for _, ierr := range invErrs {
		inv.Errorf("%s", ierr)
	}
	if len(invErrs) == 0 && e.def.Prepare != nil {
		if perr := e.def.Prepare(inv); perr != nil {
			invErrs = append(invErrs, perr)
			inv.Errorf("%s", perr)
		}
	}

	if e.def.Kind == Reporting && !mapPhase && e.def.Map != nil {
		if serr := e.frozen.Set("streaming_preop", preop(e.def.Name, info.Args)); serr != nil {
			e.logger.Error("setting streaming_preop", "error", serr)
		}
	}

	if show, _ := inv.Option("show_configuration").(bool); show {
		inv.Messagef(LevelInfo, "%s command configuration: %s", e.def.Name, settingsString(inv))
	}

	// Exactly one negotiation reply, good news or bad.
	if err := writer.WriteMetadata(e.frozen.Metadata(2)); err != nil {
		e.logger.Error("negotiation reply failed", "error", err)
		return fmt.Errorf("writing negotiation reply: %w", err)
	}

	if len(invErrs) > 0 {
		e.logger.Error("invocation rejected", "errors", len(invErrs))
		return fmt.Errorf("plugin %s: rejected with %d argument error(s)", e.def.Name, len(invErrs))
	}

	e.logger.Info("invocation negotiated",
		"kind", e.def.Kind.String(), "fieldnames", fieldnames, "maxresultrows", maxRows)
	return e.execute(r, writer, inv, mapPhase)
}

// execute is the lockstep exchange: read one execute chunk, run the plugin
// callback over its records, write the output, flush carrying that chunk's
// finished flag, repeat. The host waits for each reply before sending the
// next chunk, so nothing here may defer output past the chunk that caused
// it. Any failure still attempts a final finished flush so the host sees
// the queued inspector messages.
func (e *Engine) execute(r *bufio.Reader, writer *RecordWriter, inv *Invocation, mapPhase bool) (err error) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("plugin panicked", "panic", p, "stack", string(debug.Stack()))
			inv.Errorf("%s crashed: %v", e.def.Name, p)
			flushFinal(writer)
			err = fmt.Errorf("plugin %s panicked: %v", e.def.Name, p)
		}
	}()

	for {
		chunk, rerr := protocol.ReadChunk(r)
		if rerr == io.EOF {
			// Host closed without a finished flag; wrap up anyway.
			e.logger.Warn("input ended before a finished chunk")
			if ferr := writer.Flush(true, false); ferr != nil {
				return fmt.Errorf("final flush: %w", ferr)
			}
			return nil
		}
		if rerr != nil {
			inv.Errorf("%s lost the host conversation: %s", e.def.Name, rerr)
			flushFinal(writer)
			e.logger.Error("execute read failed", "error", rerr)
			return fmt.Errorf("reading execute chunk: %w", rerr)
		}
		if action := chunk.Action(); action != protocol.ActionExecute {
			verr := fmt.Errorf("expected %s, host sent action %q", protocol.ActionExecute, action)
			inv.Errorf("%s lost the host conversation: %s", e.def.Name, verr)
			flushFinal(writer)
			e.logger.Error("protocol violation", "error", verr)
			return verr
		}

		records, derr := decodeRecords(chunk.Body)
		if derr != nil {
			inv.Errorf("%s could not read its input: %s", e.def.Name, derr)
			flushFinal(writer)
			e.logger.Error("execute body undecodable", "error", derr)
			return fmt.Errorf("decoding execute body: %w", derr)
		}

		out := e.dispatch(inv, sliceRecords(records), mapPhase)
		if out != nil {
			for rec := range out {
				if werr := writer.WriteRecord(rec); werr != nil {
					flushFinal(writer)
					return fmt.Errorf("writing output record: %w", werr)
				}
			}
		}

		// Generating plugins emit everything on their first exchange.
		finished := chunk.Finished() || e.def.Kind == Generating
		if ferr := writer.Flush(finished, false); ferr != nil {
			return fmt.Errorf("flushing records: %w", ferr)
		}
		if finished {
			e.logger.Info("invocation finished")
			return nil
		}
	}
}

func (e *Engine) dispatch(inv *Invocation, in Records, mapPhase bool) Records {
	switch e.def.Kind {
	case Generating:
		return e.def.Generate(inv)
	case Streaming, Eventing:
		return e.def.Stream(inv, in)
	case Reporting:
		if mapPhase {
			if e.def.Map != nil {
				return e.def.Map(inv, in)
			}
			// Default pre-phase passes records through untouched.
			return in
		}
		return e.def.Reduce(inv, in)
	}
	return nil
}

// flushFinal is the best-effort finished flush on error paths.
func flushFinal(writer *RecordWriter) {
	_ = writer.Flush(true, false)
}

// settingsString renders the effective configuration for show_configuration.
func settingsString(inv *Invocation) string {
	items := inv.Settings.Render(2)
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprintf("%s=%v", item.Name, item.Value)
	}
	return strings.Join(parts, ", ")
}
