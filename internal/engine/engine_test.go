package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/searchplug/internal/options"
	"github.com/mattjoyce/searchplug/internal/protocol"
	"github.com/mattjoyce/searchplug/internal/runtime"
)

// passthrough is the trivial streaming callback.
func passthrough(_ *Invocation, in Records) Records { return in }

func streamingDef(name string, opts ...*options.Option) Definition {
	return Definition{Name: name, Kind: Streaming, Options: opts, Stream: passthrough}
}

func getinfoChunk(t *testing.T, maxResultRows int, args ...string) []byte {
	t.Helper()
	searchinfo := map[string]any{
		"args": args,
		"sid":  "search_1",
	}
	if maxResultRows > 0 {
		searchinfo["maxresultrows"] = maxResultRows
	}
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteChunk(&buf, map[string]any{
		"action":     protocol.ActionGetinfo,
		"searchinfo": searchinfo,
	}, nil))
	return buf.Bytes()
}

func executeChunk(t *testing.T, finished bool, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteChunk(&buf, map[string]any{
		"action":   protocol.ActionExecute,
		"finished": finished,
	}, []byte(body)))
	return buf.Bytes()
}

// runEngine feeds the concatenated input through a fresh engine and returns
// the parsed output chunks.
func runEngine(t *testing.T, def Definition, input ...[]byte) ([]*protocol.Chunk, error) {
	t.Helper()
	eng, err := New(def, runtime.Discard())
	require.NoError(t, err)

	var in bytes.Buffer
	for _, part := range input {
		in.Write(part)
	}
	var out bytes.Buffer
	runErr := eng.Run([]string{"plugin"}, &in, &out)
	return readAllChunks(t, out.Bytes()), runErr
}

func readAllChunks(t *testing.T, output []byte) []*protocol.Chunk {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(output))
	var chunks []*protocol.Chunk
	for {
		c, err := protocol.ReadChunk(r)
		if err == io.EOF {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
}

func inspectorMessages(t *testing.T, c *protocol.Chunk) [][2]string {
	t.Helper()
	insp, _ := c.Metadata["inspector"].(map[string]any)
	raw, _ := insp["messages"].([]any)
	var out [][2]string
	for _, m := range raw {
		pair, ok := m.([]any)
		require.True(t, ok)
		require.Len(t, pair, 2)
		out = append(out, [2]string{pair[0].(string), pair[1].(string)})
	}
	return out
}

func bodyRecords(t *testing.T, c *protocol.Chunk) []*Record {
	t.Helper()
	records, err := decodeRecords(c.Body)
	require.NoError(t, err)
	return records
}

func TestStreamingPassthrough(t *testing.T) {
	body := "a,b\r\n1,x\r\n2,y\r\n"
	chunks, err := runEngine(t, streamingDef("where"),
		getinfoChunk(t, 0),
		executeChunk(t, true, body))
	require.NoError(t, err)
	require.Len(t, chunks, 2, "negotiation reply plus one result chunk")

	reply := chunks[0]
	assert.Empty(t, reply.Body)
	assert.Equal(t, "streaming", reply.Metadata["type"])

	final := chunks[1]
	assert.True(t, final.Finished())
	records := bodyRecords(t, final)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].Get("a"))
	assert.Equal(t, "y", records[1].Get("b"))
}

func TestMissingRequiredOptionRejectsButStillReplies(t *testing.T) {
	def := Definition{
		Name: "sum",
		Kind: Reporting,
		Options: []*options.Option{
			{Name: "total", Validate: options.Fieldname{}, Require: true},
		},
		Reduce: passthrough,
	}

	chunks, err := runEngine(t, def, getinfoChunk(t, 0, "linecount"))
	require.Error(t, err, "a rejected invocation exits non-zero")

	require.Len(t, chunks, 1, "exactly one negotiation reply, errors or not")
	msgs := inspectorMessages(t, chunks[0])
	require.Len(t, msgs, 1)
	assert.Equal(t, LevelError, msgs[0][0])
	assert.Contains(t, msgs[0][1], `A value for "total" is required`)
}

func TestEveryBadArgumentIsReported(t *testing.T) {
	def := streamingDef("where",
		&options.Option{Name: "lt", Validate: options.Float{}},
	)

	chunks, err := runEngine(t, def, getinfoChunk(t, 0, "lt=banana", "bogus=1"))
	require.Error(t, err)
	require.Len(t, chunks, 1)

	msgs := inspectorMessages(t, chunks[0])
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0][1], "Illegal value")
	assert.Contains(t, msgs[1][1], "Unrecognized option")
}

func TestMaxResultRowsSplitsOutput(t *testing.T) {
	var body strings.Builder
	body.WriteString("a\r\n")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&body, "v%d\r\n", i)
	}

	chunks, err := runEngine(t, streamingDef("where"),
		getinfoChunk(t, 10),
		executeChunk(t, true, body.String()))
	require.NoError(t, err)
	require.Len(t, chunks, 3, "reply, partial flush, final flush")

	partial := chunks[1]
	assert.Equal(t, true, partial.Metadata["partial"])
	assert.False(t, partial.Finished())
	assert.Len(t, bodyRecords(t, partial), 10)

	final := chunks[2]
	assert.True(t, final.Finished())
	assert.Len(t, bodyRecords(t, final), 2)
	assert.Equal(t, "v11", bodyRecords(t, final)[1].Get("a"))
}

func TestGenerating(t *testing.T) {
	def := Definition{
		Name: "generatehello",
		Kind: Generating,
		Generate: func(inv *Invocation) Records {
			return func(yield func(*Record) bool) {
				for i := 1; i <= 3; i++ {
					if !yield(NewRecord().Set("_serial", i).Set("greeting", "hello")) {
						return
					}
				}
			}
		},
	}

	chunks, err := runEngine(t, def,
		getinfoChunk(t, 0),
		executeChunk(t, true, ""))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, true, chunks[0].Metadata["generating"])

	records := bodyRecords(t, chunks[1])
	require.Len(t, records, 3)
	assert.Equal(t, "3", records[2].Get("_serial"))
	assert.Equal(t, "hello", records[2].Get("greeting"))
}

func TestReportingPreop(t *testing.T) {
	def := Definition{
		Name: "sum",
		Kind: Reporting,
		Options: []*options.Option{
			{Name: "total", Validate: options.Fieldname{}, Require: true},
		},
		Map:    passthrough,
		Reduce: passthrough,
	}

	t.Run("reduce phase advertises the preop", func(t *testing.T) {
		chunks, err := runEngine(t, def,
			getinfoChunk(t, 0, "total=s", "n"),
			executeChunk(t, true, "n\r\n1\r\n"))
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		assert.Equal(t, "sum __map__ total=s n", chunks[0].Metadata["streaming_preop"])
	})

	t.Run("map marker selects the pre-phase", func(t *testing.T) {
		var sawMap bool
		mapped := def
		mapped.Map = func(inv *Invocation, in Records) Records {
			sawMap = true
			return in
		}

		chunks, err := runEngine(t, mapped,
			getinfoChunk(t, 0, "__map__", "total=s", "n"),
			executeChunk(t, true, "n\r\n1\r\n"))
		require.NoError(t, err)
		assert.True(t, sawMap)
		require.NotEmpty(t, chunks)
		assert.NotContains(t, chunks[0].Metadata, "streaming_preop",
			"the pre-phase does not advertise a preop of its own")
	})
}

func TestEachExecuteChunkIsAnswered(t *testing.T) {
	chunks, err := runEngine(t, streamingDef("where"),
		getinfoChunk(t, 0),
		executeChunk(t, false, "a\r\n1\r\n"),
		executeChunk(t, true, "a\r\n2\r\n"))
	require.NoError(t, err)
	require.Len(t, chunks, 3, "one reply per execute chunk, in lockstep")

	assert.False(t, chunks[1].Finished())
	require.Len(t, bodyRecords(t, chunks[1]), 1)
	assert.Equal(t, "1", bodyRecords(t, chunks[1])[0].Get("a"))

	assert.True(t, chunks[2].Finished())
	require.Len(t, bodyRecords(t, chunks[2]), 1)
	assert.Equal(t, "2", bodyRecords(t, chunks[2])[0].Get("a"))
}

func TestReduceRunsPerChunk(t *testing.T) {
	// Aggregation state across exchanges lives in the plugin closure; each
	// call sees only the records of the chunk that triggered it.
	total := 0
	def := Definition{
		Name: "sum",
		Kind: Reporting,
		Reduce: func(inv *Invocation, in Records) Records {
			return func(yield func(*Record) bool) {
				for rec := range in {
					n, _ := rec.Get("n").(string)
					total += len(n)
				}
				yield(NewRecord().Set("total", total))
			}
		},
	}

	chunks, err := runEngine(t, def,
		getinfoChunk(t, 0),
		executeChunk(t, false, "n\r\nxx\r\n"),
		executeChunk(t, true, "n\r\nyyy\r\n"))
	require.NoError(t, err)
	require.Len(t, chunks, 3, "a running total answers every chunk")

	first := bodyRecords(t, chunks[1])
	require.Len(t, first, 1)
	assert.Equal(t, "2", first[0].Get("total"))

	final := bodyRecords(t, chunks[2])
	require.Len(t, final, 1)
	assert.Equal(t, "5", final[0].Get("total"))
	assert.True(t, chunks[2].Finished())
}

func TestBareGetinfoStillNegotiates(t *testing.T) {
	def := Definition{
		Name: "sum",
		Kind: Reporting,
		Options: []*options.Option{
			{Name: "total", Validate: options.Fieldname{}, Require: true},
		},
		Reduce: passthrough,
	}

	chunks, err := runEngine(t, def, []byte("chunked 1.0,0,0\n"))
	require.Error(t, err)

	require.Len(t, chunks, 1, "a well-formed reply even to an empty negotiation")
	msgs := inspectorMessages(t, chunks[0])
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0][1], `"total"`)
}

func TestGetinfoViolationsAreFatal(t *testing.T) {
	t.Run("wrong first action", func(t *testing.T) {
		chunks, err := runEngine(t, streamingDef("where"),
			executeChunk(t, true, ""))
		require.Error(t, err)
		assert.Empty(t, chunks, "no reply to a broken negotiation")
	})

	t.Run("getinfo with a body", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, protocol.WriteChunk(&buf,
			map[string]any{"action": protocol.ActionGetinfo}, []byte("x\r\n1\r\n")))
		chunks, err := runEngine(t, streamingDef("where"), buf.Bytes())
		require.Error(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("framing garbage", func(t *testing.T) {
		chunks, err := runEngine(t, streamingDef("where"), []byte("HTTP/1.1 200 OK\n"))
		require.Error(t, err)
		assert.Empty(t, chunks)
	})
}

func TestPanicStillFlushes(t *testing.T) {
	def := Definition{
		Name: "where",
		Kind: Streaming,
		Stream: func(inv *Invocation, in Records) Records {
			return func(yield func(*Record) bool) {
				panic("boom")
			}
		},
	}

	chunks, err := runEngine(t, def,
		getinfoChunk(t, 0),
		executeChunk(t, true, "a\r\n1\r\n"))
	require.Error(t, err)
	require.Len(t, chunks, 2, "reply plus the best-effort final flush")

	final := chunks[1]
	assert.True(t, final.Finished())
	msgs := inspectorMessages(t, final)
	require.NotEmpty(t, msgs)
	assert.Equal(t, LevelError, msgs[0][0])
	assert.Contains(t, msgs[0][1], "boom")
}

func TestShowConfiguration(t *testing.T) {
	chunks, err := runEngine(t, streamingDef("where"),
		getinfoChunk(t, 0, "show_configuration=t"),
		executeChunk(t, true, ""))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	msgs := inspectorMessages(t, chunks[0])
	require.Len(t, msgs, 1)
	assert.Equal(t, LevelInfo, msgs[0][0])
	assert.Contains(t, msgs[0][1], "where command configuration:")
	assert.Contains(t, msgs[0][1], "type=streaming")
}

func TestDeclarationErrors(t *testing.T) {
	rt := runtime.Discard()

	tests := []struct {
		name    string
		def     Definition
		wantErr string
	}{
		{
			name:    "missing name",
			def:     Definition{Kind: Streaming, Stream: passthrough},
			wantErr: "name is required",
		},
		{
			name:    "missing kind callback",
			def:     Definition{Name: "x", Kind: Generating},
			wantErr: "no generate callback",
		},
		{
			name: "bad option name",
			def: Definition{Name: "x", Kind: Streaming, Stream: passthrough,
				Options: []*options.Option{{Name: "not ok"}}},
			wantErr: "illegal option name",
		},
		{
			name: "fixed setting override",
			def: Definition{Name: "x", Kind: Streaming, Stream: passthrough,
				Settings: map[string]any{"streaming": false}},
			wantErr: "fixed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.def, rt)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHostClosingWithoutFinishedStillFinishes(t *testing.T) {
	chunks, err := runEngine(t, streamingDef("where"),
		getinfoChunk(t, 0),
		executeChunk(t, false, "a\r\n1\r\n"))
	require.NoError(t, err)
	require.Len(t, chunks, 3, "reply, the chunk's records, a final finished frame")
	assert.False(t, chunks[1].Finished())
	assert.Len(t, bodyRecords(t, chunks[1]), 1)
	assert.True(t, chunks[2].Finished())
	assert.Empty(t, chunks[2].Body)
}

func TestFinishedExchangeEndsTheRun(t *testing.T) {
	eng, err := New(streamingDef("where"), runtime.Discard())
	require.NoError(t, err)

	input := append(getinfoChunk(t, 0), executeChunk(t, true, "a\r\n1\r\n")...)
	pr, pw := io.Pipe()
	var out bytes.Buffer

	done := make(chan error, 1)
	go func() { done <- eng.Run([]string{"plugin"}, pr, &out) }()
	go func() {
		// The pipe stays open after the finished chunk; a host that keeps
		// the connection up must not strand the plugin.
		_, _ = pw.Write(input)
	}()

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("run still blocked after the finished exchange")
	}

	chunks := readAllChunks(t, out.Bytes())
	require.Len(t, chunks, 2)
	assert.True(t, chunks[1].Finished())
}
