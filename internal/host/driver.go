// Package host drives a search plugin the way the real host does: it spawns
// the plugin binary, runs the getinfo/execute chunk exchange over its stdio,
// and collects the negotiated settings, inspector traffic and result records.
// The chunkrun command uses it to exercise plugins outside a search head.
package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/searchplug/internal/mvfield"
	"github.com/mattjoyce/searchplug/internal/protocol"
)

const (
	// maxStderrBytes caps the amount of stderr captured from the plugin.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the wait after SIGTERM before SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Invocation describes one simulated search against a plugin.
type Invocation struct {
	// Args is the command line after the plugin name, options and
	// fieldnames mixed, exactly as a search would carry them.
	Args []string

	// Input is the CSV document fed as the execute body. Nil runs the
	// plugin with no input records, the generating case.
	Input []byte

	// MaxResultRows overrides the negotiated flush threshold when positive.
	MaxResultRows int

	// Timeout bounds the whole exchange. Zero means a minute.
	Timeout time.Duration
}

// Batch is one flushed result chunk, decoded for display. Multi-value cells
// are newline-joined.
type Batch struct {
	Partial bool
	Columns []string
	Rows    [][]string
}

// Result is everything the exchange produced.
type Result struct {
	Settings map[string]any
	Messages [][2]string
	Batches  []Batch
	Stderr   string
	ExitCode int
}

// Records returns the total number of result rows across batches.
func (r *Result) Records() int {
	n := 0
	for _, b := range r.Batches {
		n += len(b.Rows)
	}
	return n
}

// Driver runs plugin exchanges.
type Driver struct {
	logger *slog.Logger
}

// New creates a Driver logging through logger.
func New(logger *slog.Logger) *Driver {
	return &Driver{logger: logger}
}

// Run spawns entrypoint and performs the full chunk exchange. A non-zero
// plugin exit is not an error here; the caller inspects Result.ExitCode and
// the collected messages, which is where a rejected invocation explains
// itself.
func (d *Driver) Run(ctx context.Context, entrypoint string, inv Invocation) (*Result, error) {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	cmd := exec.Command(entrypoint)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.logger.Debug("spawning plugin", "entrypoint", entrypoint, "timeout", timeout)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- writeExchange(stdin, inv)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		d.terminate(cmd, waitErr)
		return nil, ctx.Err()

	case <-timeoutTimer.C:
		d.logger.Warn("plugin timed out, sending SIGTERM")
		d.terminate(cmd, waitErr)
		return nil, context.DeadlineExceeded

	case err := <-waitErr:
		werr := <-writeErr

		result := &Result{Stderr: truncateStderr(stderr.String())}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, fmt.Errorf("wait for process: %w", err)
			}
			result.ExitCode = exitErr.ExitCode()
			d.logger.Warn("plugin exited non-zero", "exit_code", result.ExitCode)
		}

		if err := parseOutput(stdout.Bytes(), result); err != nil {
			if werr != nil {
				return nil, fmt.Errorf("feeding plugin input: %w", werr)
			}
			d.logger.Error("unparseable plugin output", "error", err)
			return nil, fmt.Errorf("decode plugin output: %w", err)
		}

		// A plugin that rejects its arguments exits before draining stdin,
		// breaking our pipe. Its reply and exit code tell the story; the
		// write failure is a side effect, not the result.
		if werr != nil {
			d.logger.Debug("plugin exited before consuming all input", "error", werr)
		}
		return result, nil
	}
}

// terminate enforces SIGTERM-then-SIGKILL shutdown.
func (d *Driver) terminate(cmd *exec.Cmd, waitErr chan error) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			d.logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		d.logger.Info("plugin exited after SIGTERM")
	case <-grace.C:
		d.logger.Warn("plugin ignored SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				d.logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

// writeExchange sends the getinfo chunk and one finished execute chunk.
func writeExchange(w io.Writer, inv Invocation) error {
	searchinfo := map[string]any{
		"args": inv.Args,
		"sid":  fmt.Sprintf("chunkrun_%d", time.Now().Unix()),
	}
	if inv.MaxResultRows > 0 {
		searchinfo["maxresultrows"] = inv.MaxResultRows
	}
	if err := protocol.WriteChunk(w, map[string]any{
		"action":     protocol.ActionGetinfo,
		"searchinfo": searchinfo,
	}, nil); err != nil {
		return fmt.Errorf("writing getinfo chunk: %w", err)
	}

	if err := protocol.WriteChunk(w, map[string]any{
		"action":   protocol.ActionExecute,
		"finished": true,
	}, inv.Input); err != nil {
		return fmt.Errorf("writing execute chunk: %w", err)
	}
	return nil
}

// parseOutput decodes the plugin's chunk stream into the result. The first
// chunk is the negotiation reply; the rest carry records.
func parseOutput(output []byte, result *Result) error {
	r := bufio.NewReader(bytes.NewReader(output))
	first := true
	for {
		chunk, err := protocol.ReadChunk(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		collectInspector(chunk, result)
		if first {
			first = false
			result.Settings = settingsOf(chunk)
			continue
		}

		batch, err := decodeBatch(chunk)
		if err != nil {
			return err
		}
		if batch != nil {
			result.Batches = append(result.Batches, *batch)
		}
	}
}

func settingsOf(chunk *protocol.Chunk) map[string]any {
	settings := make(map[string]any, len(chunk.Metadata))
	for name, value := range chunk.Metadata {
		if name == "inspector" {
			continue
		}
		settings[name] = value
	}
	return settings
}

func collectInspector(chunk *protocol.Chunk, result *Result) {
	insp, _ := chunk.Metadata["inspector"].(map[string]any)
	msgs, _ := insp["messages"].([]any)
	for _, m := range msgs {
		pair, ok := m.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		level, _ := pair[0].(string)
		text, _ := pair[1].(string)
		result.Messages = append(result.Messages, [2]string{level, text})
	}
}

// decodeBatch turns a result chunk's CSV body into display rows. Companion
// columns fold into their primary column.
func decodeBatch(chunk *protocol.Chunk) (*Batch, error) {
	if len(chunk.Body) == 0 {
		return nil, nil
	}

	r := csv.NewReader(bytes.NewReader(chunk.Body))
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading batch header: %w", err)
	}

	partial, _ := chunk.Metadata["partial"].(bool)
	batch := &Batch{Partial: partial}
	companions := make(map[string]int, len(header))
	for i, name := range header {
		if strings.HasPrefix(name, mvfield.CompanionPrefix) {
			companions[strings.TrimPrefix(name, mvfield.CompanionPrefix)] = i
			continue
		}
		batch.Columns = append(batch.Columns, name)
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			return batch, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading batch row: %w", err)
		}

		cells := make([]string, 0, len(batch.Columns))
		for i, name := range header {
			if strings.HasPrefix(name, mvfield.CompanionPrefix) {
				continue
			}
			if ci, ok := companions[name]; ok && ci < len(row) && row[ci] != "" {
				cells = append(cells, strings.Join(mvfield.Decode(row[ci]), "\n"))
				continue
			}
			cells = append(cells, row[i])
		}
		batch.Rows = append(batch.Rows, cells)
	}
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
