package engine

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/searchplug/internal/options"
	"github.com/mattjoyce/searchplug/internal/runtime"
)

func runLegacy(t *testing.T, def Definition, args []string, input string) (string, error) {
	t.Helper()
	eng, err := New(def, runtime.Discard())
	require.NoError(t, err)

	var out bytes.Buffer
	runErr := eng.Run(args, strings.NewReader(input), &out)
	return out.String(), runErr
}

func TestLegacyGetinfo(t *testing.T) {
	output, err := runLegacy(t, streamingDef("where"),
		[]string{"where", "__GETINFO__"}, "")
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(output)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2, "a names row and a values row")

	settings := map[string]string{}
	for i, name := range rows[0] {
		settings[name] = rows[1][i]
	}
	assert.Equal(t, "t", settings["streaming"])
	assert.NotContains(t, settings, "type", "type is chunked-protocol only")
}

func TestLegacyExecutePassthrough(t *testing.T) {
	input := "header:ignored\nanother:line\n\na,b\r\n1,x\r\n2,y\r\n"
	output, err := runLegacy(t, streamingDef("where"),
		[]string{"where", "__EXECUTE__"}, input)
	require.NoError(t, err)

	records, derr := decodeRecords([]byte(output))
	require.NoError(t, derr)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].Get("a"))
	assert.Equal(t, "y", records[1].Get("b"))
}

func TestLegacyExecuteWithoutInputHeader(t *testing.T) {
	output, err := runLegacy(t, streamingDef("where"),
		[]string{"where", "__EXECUTE__"}, "a\r\n1\r\n")
	require.NoError(t, err)

	records, derr := decodeRecords([]byte(output))
	require.NoError(t, derr)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].Get("a"))
}

func TestLegacyRejectionWritesErrorTable(t *testing.T) {
	def := streamingDef("where",
		&options.Option{Name: "field", Validate: options.Fieldname{}, Require: true},
	)

	output, err := runLegacy(t, def, []string{"where", "__GETINFO__"}, "")
	require.Error(t, err)

	rows, rerr := csv.NewReader(strings.NewReader(output)).ReadAll()
	require.NoError(t, rerr)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"ERROR"}, rows[0])
	assert.Contains(t, rows[1][0], `A value for "field" is required`)
}

func TestLegacyPhaseDetection(t *testing.T) {
	assert.Equal(t, "__GETINFO__", legacyPhase([]string{"cmd", "__GETINFO__", "x=1"}))
	assert.Equal(t, "__EXECUTE__", legacyPhase([]string{"cmd", "__EXECUTE__"}))
	assert.Empty(t, legacyPhase([]string{"cmd"}))
	assert.Empty(t, legacyPhase([]string{"cmd", "x=1"}))
	assert.Empty(t, legacyPhase(nil))
}
