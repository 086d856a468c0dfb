package cli

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/todosync/internal/model"
	"github.com/existflow/todosync/server"
)

const scriptAPIKey = "script-key"

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"todosync": func() { os.Exit(Main()) },
	})
}

// startServer runs an in-memory endpoint for one script
func startServer(env *testscript.Env, cfg server.Config) string {
	srv := server.New(server.NewMemoryStore(), cfg)
	ts := httptest.NewServer(srv.Router())
	env.Defer(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return ts.URL
}

func setupScriptEnv(env *testscript.Env) error {
	homeDir := filepath.Join(env.WorkDir, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return err
	}
	env.Setenv("HOME", homeDir)

	apiURL := startServer(env, server.Config{
		AuthMode: server.AuthAPIKey,
		APIKeys:  []string{scriptAPIKey},
	})
	poolURL := startServer(env, server.Config{AuthMode: server.AuthUserPool})

	env.Setenv("API_URL", apiURL)
	env.Setenv("POOL_URL", poolURL)
	env.Setenv("TODOSYNC_ENDPOINT", apiURL)
	env.Setenv("TODOSYNC_API_KEY", scriptAPIKey)
	return nil
}

// cmdEnvSet stores the trimmed contents of a file in an env var
func cmdEnvSet(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("envset does not support negation")
	}
	if len(args) != 2 {
		ts.Fatalf("usage: envset VAR FILE")
	}
	ts.Setenv(args[0], strings.TrimSpace(ts.ReadFile(args[1])))
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir:   "testdata/script",
		Setup: setupScriptEnv,
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"envset": cmdEnvSet,
		},
	})
}

func TestParseWhere(t *testing.T) {
	filter, err := parseWhere([]string{
		"priority eq HIGH",
		"name contains oat milk",
		"_version between 1 3",
	}, true)
	require.NoError(t, err)

	assert.True(t, filter.IncludeDeleted)
	assert.Equal(t, []model.Condition{
		{Field: "priority", Op: model.OpEq, Value: "HIGH"},
		{Field: "name", Op: model.OpContains, Value: "oat milk"},
		{Field: "_version", Op: model.OpBetween, Value: "1", Upper: "3"},
	}, filter.Conditions)

	normalized, err := filter.Normalize()
	require.NoError(t, err)
	assert.Equal(t, int64(model.PriorityHigh), normalized.Conditions[0].Value)
	assert.Equal(t, int64(3), normalized.Conditions[2].Upper)
}

func TestParseWhereErrors(t *testing.T) {
	tests := map[string]string{
		"too short":       "priority eq",
		"between one arg": "_version between 1",
		"between extra":   "_version between 1 2 3",
	}
	for name, expr := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseWhere([]string{expr}, false)
			assert.Error(t, err)
		})
	}
}

func TestParseWhereEmpty(t *testing.T) {
	filter, err := parseWhere(nil, false)
	require.NoError(t, err)
	assert.Empty(t, filter.Conditions)
	assert.False(t, filter.IncludeDeleted)
}

func TestDescribeResult(t *testing.T) {
	assert.Equal(t, "Pushed: 2, Pulled: 0", describeResult(model.SyncResult{Pushed: 2}))
	assert.Equal(t, "Pushed: 0, Pulled: 1, Conflicts: 1, Rejected: 2, Pending: 3",
		describeResult(model.SyncResult{Pulled: 1, Conflicts: 1, Rejected: 2, Pending: 3}))
}

func TestTruncateAndShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "01234567", shortID("0123456789"))
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hell...", truncate("hello world", 7))
}
