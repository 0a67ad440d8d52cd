package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/switchyard/agents/llm"
	"github.com/adalundhe/switchyard/core/config"
	"github.com/adalundhe/switchyard/core/intent"
)

// =============================================================================
// Helpers
// =============================================================================

type cannedProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *cannedProvider) Name() string { return "canned" }

func (p *cannedProvider) Complete(context.Context, llm.Request) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return "OK there are two roles", nil
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	out := &bytes.Buffer{}
	c := &cobra.Command{}
	c.SetOut(out)
	c.SetErr(out)
	return c, out
}

func withConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	prev := appConfig
	appConfig = cfg
	t.Cleanup(func() { appConfig = prev })
}

// =============================================================================
// Root
// =============================================================================

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "agent", "reflect")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"agent":"reflect"`)

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestExecute_RulesValidateWithConfigFlag(t *testing.T) {
	dir := t.TempDir()
	table := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(table, []byte(`
version: 7
rules:
  - name: roles
    intent: roles
    priority: 1
    keywords: ["roles"]
    confidence: 0.9
    metadata: {source: test}
`), 0o644))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("rules:\n  path: "+table+"\n"), 0o644))

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs([]string{"--config", cfgPath, "--log-level", "error", "rules", "validate"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = ""
		appConfig = nil
	})

	require.NoError(t, Execute())
	assert.Contains(t, out.String(), "1 rules, version 7")
}

// =============================================================================
// Classify / batch
// =============================================================================

func TestRunClassify_JSON(t *testing.T) {
	withConfig(t, config.DefaultConfig())
	classifyJSON = true
	t.Cleanup(func() { classifyJSON = false })

	c, out := testCommand()
	require.NoError(t, runClassify(c, []string{"please", "delete role", "admin"}))

	var res intent.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "roles_delete", res.Intent)
	assert.Equal(t, "delete", res.Action)
}

func TestRunClassify_Unresolved(t *testing.T) {
	withConfig(t, config.DefaultConfig())

	c, out := testCommand()
	require.NoError(t, runClassify(c, []string{"zzz"}))
	assert.Equal(t, "unresolved\n", out.String())
}

func TestRunBatch_KeepsInputOrder(t *testing.T) {
	withConfig(t, config.DefaultConfig())
	batchWorkers = 4

	path := filepath.Join(t.TempDir(), "msgs.txt")
	require.NoError(t, os.WriteFile(path, []byte("list roles\n\nthere is an outage\nzzz\ndelete role admin\n"), 0o644))

	c, out := testCommand()
	require.NoError(t, runBatch(c, []string{path}))

	var got []batchLine
	dec := json.NewDecoder(out)
	for dec.More() {
		var l batchLine
		require.NoError(t, dec.Decode(&l))
		got = append(got, l)
	}
	require.Len(t, got, 4)
	assert.Equal(t, []int{1, 3, 4, 5}, []int{got[0].Line, got[1].Line, got[2].Line, got[3].Line})
	assert.Equal(t, "roles", got[0].Result.Intent)
	assert.Equal(t, "incident_report", got[1].Result.Intent)
	assert.False(t, got[2].Result.Resolved)
	assert.Equal(t, "roles_delete", got[3].Result.Intent)
}

func TestRunBatch_Stdin(t *testing.T) {
	withConfig(t, config.DefaultConfig())

	c, out := testCommand()
	c.SetIn(strings.NewReader("list roles\n"))
	require.NoError(t, runBatch(c, []string{"-"}))
	assert.Contains(t, out.String(), `"intent":"roles"`)
}

// =============================================================================
// Rules
// =============================================================================

func TestRunRulesList(t *testing.T) {
	withConfig(t, config.DefaultConfig())

	c, out := testCommand()
	require.NoError(t, runRulesList(c, nil))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.True(t, strings.HasPrefix(lines[1], "incident_report"))
}

func TestRunRulesValidate(t *testing.T) {
	withConfig(t, config.DefaultConfig())

	c, out := testCommand()
	require.NoError(t, runRulesValidate(c, nil))
	assert.Contains(t, out.String(), "ok embedded table")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rules:\n  - name: x\n    intent: x\n    keywords: []\n"), 0o644))
	c, _ = testCommand()
	assert.Error(t, runRulesValidate(c, []string{bad}))
}

// =============================================================================
// Turn / cache
// =============================================================================

func turnConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Data.Static = map[string]string{"roles": "admin, viewer"}
	return cfg
}

func TestTurnRunner_Run(t *testing.T) {
	p := &cannedProvider{}
	a, err := buildApp(context.Background(), turnConfig(), p)
	require.NoError(t, err)
	defer a.Close()

	out := &bytes.Buffer{}
	r := &turnRunner{ctrl: a.controller, out: out}
	require.NoError(t, r.run(context.Background(), "list roles"))

	assert.Contains(t, out.String(), "OK there are two roles")
	assert.Contains(t, out.String(), "data_query > reflect")
	assert.NotNil(t, r.state)
	assert.Positive(t, p.calls)
}

func TestTurnRunner_LoopStopsOnExit(t *testing.T) {
	a, err := buildApp(context.Background(), turnConfig(), &cannedProvider{})
	require.NoError(t, err)
	defer a.Close()

	out := &bytes.Buffer{}
	r := &turnRunner{ctrl: a.controller, out: out}
	require.NoError(t, r.loop(context.Background(), strings.NewReader("list roles\n\nexit\nlist roles\n")))
	assert.Equal(t, 1, strings.Count(out.String(), "OK there are two roles"))
}

func TestBuildApp_RequiresAPIKey(t *testing.T) {
	t.Setenv("SWITCHYARD_LLM_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := buildApp(context.Background(), turnConfig(), nil)
	assert.ErrorContains(t, err, "api_key")
}

func TestRunCacheClear(t *testing.T) {
	cfg := config.DefaultConfig()
	withConfig(t, cfg)

	c, out := testCommand()
	require.NoError(t, runCacheClear(c, nil))
	assert.Equal(t, "cleared memory graph cache\n", out.String())

	mr := miniredis.RunT(t)
	mr.Set("switchyard:graph:stale", "{}")
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = mr.Addr()

	c, out = testCommand()
	require.NoError(t, runCacheClear(c, nil))
	assert.Equal(t, "cleared redis graph cache\n", out.String())
	assert.False(t, mr.Exists("switchyard:graph:stale"))
}
