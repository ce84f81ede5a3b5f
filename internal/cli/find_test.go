package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graffiti/internal/feed"
	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/objects"
	"github.com/roach88/graffiti/internal/store"
	"github.com/roach88/graffiti/internal/testutil"
)

// seedStore writes objects as their _by author and returns the db path.
func seedStore(t *testing.T, objs ...map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graffiti.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	w := objects.NewWriter(st, feed.NewMemory(), objects.WithClock(testutil.NewDeterministicClock().Now))
	for _, fields := range objs {
		obj := ir.MustObject(fields)
		author, _ := obj.StringField(ir.FieldBy)
		_, err := w.Update(context.Background(), author, obj, nil)
		require.NoError(t, err)
	}
	return path
}

func TestFind_NewestFirst(t *testing.T) {
	db := seedStore(t,
		map[string]any{"_by": "alice", "kind": "note", "text": "first"},
		map[string]any{"_by": "alice", "kind": "note", "text": "second"},
		map[string]any{"_by": "alice", "kind": "other"},
	)

	out, err := runCLI(t, "find", "--db", db, `{"kind": "note"}`)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"text":"second"`)
	assert.Contains(t, lines[1], `"text":"first"`)
}

func TestFind_RespectsAccessAndLimit(t *testing.T) {
	db := seedStore(t,
		map[string]any{"_by": "alice", "kind": "dm", "_to": []any{"bob"}},
		map[string]any{"_by": "alice", "kind": "dm", "text": "public"},
	)

	out, err := runCLI(t, "--format", "json", "find", "--db", db, `{"kind": "dm"}`)
	require.NoError(t, err)
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "public", resp.Data[0]["text"])

	out, err = runCLI(t, "--format", "json", "find", "--db", db, "--as", "bob", "--limit", "1", `{"kind": "dm"}`)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Data, 1)
}

func TestFind_Errors(t *testing.T) {
	db := seedStore(t)

	_, err := runCLI(t, "find", `{}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")

	out, err := runCLI(t, "find", "--db", db, `{"$where": "x"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeQueryInvalid)

	_, err = runCLI(t, "find", "--db", db, `not json`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
