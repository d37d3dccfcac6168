package host

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/searchplug/internal/protocol"
)

func bufioReaderFor(data []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(data))
}

func TestWriteExchange(t *testing.T) {
	var buf bytes.Buffer
	err := writeExchange(&buf, Invocation{
		Args:          []string{"total=t", "n"},
		Input:         []byte("n\r\n1\r\n"),
		MaxResultRows: 7,
	})
	require.NoError(t, err)

	r := bufioReaderFor(buf.Bytes())
	getinfo, err := protocol.ReadChunk(r)
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionGetinfo, getinfo.Action())

	info := getinfo.SearchInfo()
	assert.Equal(t, []string{"total=t", "n"}, info.Args)
	assert.Equal(t, 7, info.MaxResultRows)

	execute, err := protocol.ReadChunk(r)
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionExecute, execute.Action())
	assert.True(t, execute.Finished())
	assert.Equal(t, "n\r\n1\r\n", string(execute.Body))
}

func TestParseOutput(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, protocol.WriteChunk(&out, map[string]any{
		"type": "streaming",
		"inspector": map[string]any{
			"messages": [][]string{{"WARN", "heads up"}},
		},
	}, nil))
	out.WriteString("\n")
	require.NoError(t, protocol.WriteChunk(&out, map[string]any{
		"finished": false, "partial": true,
	}, []byte("a,__mv_a\r\n\"x\ny\",$x$;$y$\r\n")))
	require.NoError(t, protocol.WriteChunk(&out, map[string]any{
		"finished": true,
	}, []byte("a,__mv_a\r\nz,\r\n")))

	result := &Result{}
	require.NoError(t, parseOutput(out.Bytes(), result))

	assert.Equal(t, "streaming", result.Settings["type"])
	assert.NotContains(t, result.Settings, "inspector")
	require.Len(t, result.Messages, 1)
	assert.Equal(t, [2]string{"WARN", "heads up"}, result.Messages[0])

	require.Len(t, result.Batches, 2)
	assert.True(t, result.Batches[0].Partial)
	assert.Equal(t, []string{"a"}, result.Batches[0].Columns)
	assert.Equal(t, "x\ny", result.Batches[0].Rows[0][0], "multi-values join for display")
	assert.False(t, result.Batches[1].Partial)
	assert.Equal(t, "z", result.Batches[1].Rows[0][0])
	assert.Equal(t, 2, result.Records())
}

func TestParseOutputRejectsGarbage(t *testing.T) {
	result := &Result{}
	require.Error(t, parseOutput([]byte("not a chunk stream\n"), result))
}

func TestRunSurvivesPluginExitingBeforeReadingInput(t *testing.T) {
	// A plugin that rejects its arguments replies, exits non-zero and never
	// drains stdin. The broken input pipe must not eclipse its reply.
	script := filepath.Join(t.TempDir(), "plugin.sh")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\nprintf 'chunked 1.0,20,0\\n{\"type\":\"streaming\"}'\nexit 3\n"), 0o755))

	driver := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	result, err := driver.Run(context.Background(), script, Invocation{
		Args: []string{"a"},
		// Big enough to overrun the pipe buffer so the feed cannot
		// complete before the plugin is gone.
		Input:   bytes.Repeat([]byte("x"), 1<<20),
		Timeout: 30 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "streaming", result.Settings["type"])
}
