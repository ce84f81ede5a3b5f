package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graffiti/internal/ir"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCompile_Text(t *testing.T) {
	out, err := runCLI(t, "compile", `{"tags": {"$all": ["a", "b"]}}`)
	require.NoError(t, err)

	hash, err := ir.QueryHash(ir.MustObject(map[string]any{"tags": map[string]any{"$all": []any{"a", "b"}}}))
	require.NoError(t, err)
	assert.Contains(t, out, "hash:  "+hash)
	assert.Contains(t, out, `query: {"tags":{"$all":["a","b"]}}`)
}

func TestCompile_JSON(t *testing.T) {
	out, err := runCLI(t, "--format", "json", "compile", "--as", "alice", `{"kind": "note"}`)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   CompileResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "alice", resp.Data.Identity)
	assert.NotEmpty(t, resp.Data.Hash)
	assert.Equal(t, ir.Object{"kind": ir.String("note")}, resp.Data.Query)
}

func TestCompile_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		query string
		code  int
		out   string
	}{
		{name: "not json", query: `{`, code: ExitCommandError, out: "E301"},
		{name: "not an object", query: `[1]`, code: ExitCommandError, out: "E301"},
		{name: "disallowed operator", query: `{"$where": "1"}`, code: ExitFailure, out: "E301"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, "compile", tt.query)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, out, tt.out)
		})
	}
}
