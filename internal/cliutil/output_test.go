package cliutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatAcceptsKnownValues(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("yml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
}

func TestParseFormatRejectsUnknownValue(t *testing.T) {
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

type row struct {
	name, value string
}

func (r rows) Headers() []string { return []string{"Name", "Value"} }
func (r rows) Rows() [][]string {
	out := make([][]string, 0, len(r))
	for _, v := range r {
		out = append(out, []string{v.name, v.value})
	}
	return out
}

type rows []row

func TestPrintTableRendersHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, rows{{"domain_id", "0"}, {"participant_name", "corewriter"}}))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "domain_id")
	assert.Contains(t, out, "corewriter")
}

func TestSimpleTableRendersPairs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, [][2]string{{"status", "ready"}}))
	assert.Contains(t, buf.String(), "ready")
}

func TestPrintJSONAndYAMLRoundtripShape(t *testing.T) {
	type payload struct {
		Name string `json:"name" yaml:"name"`
	}

	var jsonBuf bytes.Buffer
	require.NoError(t, PrintJSON(&jsonBuf, payload{Name: "writer-1"}))
	assert.Contains(t, jsonBuf.String(), "writer-1")

	var yamlBuf bytes.Buffer
	require.NoError(t, PrintYAML(&yamlBuf, payload{Name: "writer-1"}))
	assert.Contains(t, yamlBuf.String(), "writer-1")
}
