package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsql/internal/state"
	"github.com/leapstack-labs/gridsql/internal/testutil"
)

// project is a seeded SQLite target plus a state database in a temp dir.
type project struct {
	schema string
	db     string
	state  string
}

func newProject(t *testing.T) *project {
	t.Helper()
	schema, err := filepath.Abs(filepath.Join("..", "..", "testdata", "shop.yaml"))
	require.NoError(t, err)
	seed, err := os.ReadFile(filepath.Join("..", "..", "testdata", "shop.sql"))
	require.NoError(t, err)

	dir := t.TempDir()
	p := &project{
		schema: schema,
		db:     filepath.Join(dir, "shop.db"),
		state:  filepath.Join(dir, ".gridsql", "state.db"),
	}
	db, err := sql.Open("sqlite", p.db)
	require.NoError(t, err)
	_, err = db.ExecContext(context.Background(), string(seed))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// keep config discovery away from the repository
	t.Chdir(dir)
	return p
}

func (p *project) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append(args,
		"--target", "sqlite",
		"--path", p.db,
		"--schema", p.schema,
		"--state", p.state,
	))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "gridsql v"+Version)
}

func TestHelpCommand(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	for _, name := range []string{"compile", "validate", "resolve", "link", "unlink", "outbox", "dialects", "migrate"} {
		assert.Contains(t, buf.String(), name)
	}
}

func TestUnknownCommand(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"unknown-command"})
	assert.Error(t, cmd.Execute())
}

func TestDialectsCommand(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"dialects"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	for _, want := range []string{"duckdb", "mssql", "mysql", "postgres", "sqlite", "$1", "@p1", "OFFSET/FETCH"} {
		assert.Contains(t, out, want)
	}
}

func TestCompletionCommand(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			cmd := NewRootCmd()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetArgs([]string{"completion", shell})
			require.NoError(t, cmd.Execute())
			assert.NotEmpty(t, buf.String())
		})
	}
}

func TestMigrateCommand(t *testing.T) {
	p := newProject(t)
	out, err := p.run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "is at version 1")
	assert.FileExists(t, p.state)
}

func TestCompileCommand(t *testing.T) {
	p := newProject(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr string
	}{
		{
			name: "formula column",
			args: []string{"compile", "or_shout"},
			want: []string{"UPPER(", "title"},
		},
		{
			name: "ad-hoc formula",
			args: []string{"compile", "--table", "orders", "--formula", `{"kind":"call","name":"LOWER","args":[{"kind":"identifier","name":"Title"}]}`},
			want: []string{"LOWER(", "title"},
		},
		{
			name: "select every column",
			args: []string{"compile", "--table", "t_orders", "--select"},
			want: []string{"SELECT", "FROM", "orders"},
		},
		{
			name:    "broken formula",
			args:    []string{"compile", "or_broken"},
			wantErr: "unknown column Missing",
		},
		{
			name:    "nothing to compile",
			args:    []string{"compile"},
			wantErr: "nothing to compile",
		},
		{
			name:    "formula without table",
			args:    []string{"compile", "--formula", `{"kind":"literal","value":1}`},
			wantErr: "--table is required",
		},
		{
			name:    "unknown column",
			args:    []string{"compile", "nope"},
			wantErr: `column "nope" not found`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.run(t, tt.args...)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestCompileCommand_MissingSchema(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"compile", "or_shout", "--state", filepath.Join(t.TempDir(), "state.db")})
	assert.ErrorContains(t, cmd.Execute(), "no schema file configured")
}

func TestValidateCommand(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "validate", "orders", "-o", "json")
	require.ErrorContains(t, err, "1 of 2 formula columns are invalid")

	var results []validation
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "or_shout", results[0].Column)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, "or_broken", results[1].Column)
	assert.Contains(t, results[1].Error, "unknown column Missing")

	// the error state outlives the command
	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(context.Background(), p.state))
	defer func() { _ = store.Close() }()
	errs, err := store.FormulaErrors(context.Background())
	require.NoError(t, err)
	assert.Contains(t, errs["or_broken"], "unknown column Missing")
	assert.NotContains(t, errs, "or_shout")
}

func TestValidateCommand_Changed(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "validate", "--changed", "or_title", "-o", "json")
	require.NoError(t, err)

	var results []validation
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "or_shout", results[0].Column)

	out, err = p.run(t, "validate", "--changed", "cu_name")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 rows)")
}

func TestValidateCommand_Watch(t *testing.T) {
	p := newProject(t)
	data, err := os.ReadFile(p.schema)
	require.NoError(t, err)
	p.schema = filepath.Join(filepath.Dir(p.db), "shop.yaml")
	require.NoError(t, os.WriteFile(p.schema, data, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := NewRootCmd()
	out, errOut := &testutil.Buffer{}, &testutil.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"validate", "--watch",
		"--target", "sqlite", "--path", p.db, "--schema", p.schema, "--state", p.state})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(errOut.String(), "1 of 2 formula columns are invalid")
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(p.schema, append(data, "\n# touched\n"...), 0o644))
	require.Eventually(t, func() bool {
		return strings.Contains(errOut.String(), "schema changed, validating again")
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "or_broken")
}

func TestResolveCommand(t *testing.T) {
	p := newProject(t)

	t.Run("single", func(t *testing.T) {
		out, err := p.run(t, "resolve", "or_tags", "1")
		require.NoError(t, err)
		assert.Contains(t, out, "red")
		assert.Contains(t, out, "blue")
	})

	t.Run("counts in request order", func(t *testing.T) {
		out, err := p.run(t, "resolve", "cu_orders", "2", "1", "--mode", "count", "-o", "json")
		require.NoError(t, err)
		var counts []struct {
			ParentID string
			Count    int64
		}
		require.NoError(t, json.Unmarshal([]byte(out), &counts))
		require.Len(t, counts, 2)
		assert.Equal(t, "2", counts[0].ParentID)
		assert.EqualValues(t, 0, counts[0].Count)
		assert.EqualValues(t, 2, counts[1].Count)
	})

	t.Run("batch sql", func(t *testing.T) {
		out, err := p.run(t, "resolve", "or_tags", "1", "3", "--mode", "batch", "--sql")
		require.NoError(t, err)
		assert.Contains(t, out, "UNION ALL")
		assert.Contains(t, out, "-- args:")
	})

	t.Run("single mode takes one parent", func(t *testing.T) {
		_, err := p.run(t, "resolve", "or_tags", "1", "2")
		assert.ErrorContains(t, err, "single mode reads one parent")
	})

	t.Run("bad mode", func(t *testing.T) {
		_, err := p.run(t, "resolve", "or_tags", "1", "--mode", "all")
		assert.ErrorContains(t, err, "unknown relation mode")
	})
}

func TestLinkCommand(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "link", "or_tags", "2", "1", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "mm")

	out, err = p.run(t, "resolve", "or_tags", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "red")

	out, err = p.run(t, "outbox", "-o", "json")
	require.NoError(t, err)
	var events []struct {
		Op   string `json:"op"`
		User string `json:"user"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "link", events[0].Op)
	assert.Equal(t, "u1", events[0].User)

	_, err = p.run(t, "outbox", "--ack")
	require.NoError(t, err)
	out, err = p.run(t, "outbox")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 rows)")

	t.Run("unlink", func(t *testing.T) {
		_, err := p.run(t, "unlink", "or_tags", "2", "1")
		require.NoError(t, err)
		out, err := p.run(t, "resolve", "or_tags", "2")
		require.NoError(t, err)
		assert.Contains(t, out, "(0 rows)")
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := p.run(t, "link", "or_customer", "9", "1")
		assert.ErrorContains(t, err, "not found")
	})
}
