package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/entgraph/internal/config"
	"github.com/nainya/entgraph/internal/logger"
	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/store"
	"github.com/nainya/entgraph/pkg/value"
)

const testConfig = `
log:
  level: error
schemas:
  - name: Content
    fields:
      - name: text
        kind: text
  - name: Page
    fields:
      - name: title
        kind: text
        indexed: true
    edges:
      - name: header
        target: Content
        cardinality: one
        policy: deep
`

// writeFixture writes a config whose journal holds two contents and a page
func writeFixture(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	walDir := filepath.Join(dir, "wal")
	path := filepath.Join(dir, "entgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig+"store:\n  wal_dir: "+walDir+"\n"), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	opts, err := cfg.StoreOptions(logger.Nop())
	require.NoError(t, err)
	j, err := store.OpenJournaled(cfg.JournalOptions(), opts)
	require.NoError(t, err)

	insert := func(b *ent.Builder) uint64 {
		e, err := b.Build()
		require.NoError(t, err)
		id, err := j.Insert(e)
		require.NoError(t, err)
		return id
	}
	header := insert(ent.NewBuilder("Content").Field("text", value.Text("header")))
	insert(ent.NewBuilder("Content").Field("text", value.Text("loose")))
	insert(ent.NewBuilder("Page").Field("title", value.Text("Start")).Edge("header", ent.One(header)))
	require.NoError(t, j.Close())

	return path, walDir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "entgraph", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "inspect", "export", "check-config"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "Command %s should exist", name)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "check-config", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCheckConfig(t *testing.T) {
	path, walDir := writeFixture(t)

	out, _, err := execute(t, "check-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "journal in "+walDir+", 2 types")
	assert.Contains(t, out, "header -> Content (one, deep)")

	out, _, err = execute(t, "check-config", "--config", path, "--format", "json")
	require.NoError(t, err)
	var result struct {
		Valid   bool            `json:"valid"`
		Schemas []SchemaSummary `json:"schemas"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Valid)
	require.Len(t, result.Schemas, 2)
	assert.Equal(t, []string{"title"}, result.Schemas[1].Indexed)
}

func TestCheckConfigOverrides(t *testing.T) {
	path, _ := writeFixture(t)

	_, _, err := execute(t, "check-config", "--config", path, "--log-level", "chatty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")

	out, _, err := execute(t, "check-config", "--config", path, "--wal-dir", "/srv/graph")
	require.NoError(t, err)
	assert.Contains(t, out, "journal in /srv/graph")
}

func TestInspect(t *testing.T) {
	path, walDir := writeFixture(t)

	out, _, err := execute(t, "inspect", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "records:      3")
	assert.Contains(t, out, "  Content     2")

	out, _, err = execute(t, "inspect", "--config", path, "--format", "json")
	require.NoError(t, err)
	var result InspectResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 3, result.Store.Records)
	assert.Equal(t, 1, result.Store.Types["Page"])
	assert.Equal(t, 3, result.Replay.ReplayedOperations)
	assert.Contains(t, result.Path, walDir)
}

func TestExport(t *testing.T) {
	path, _ := writeFixture(t)

	out, errOut, err := execute(t, "export", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, errOut, "exported 3 records")

	var types []string
	sc := bufio.NewScanner(bytes.NewBufferString(out))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		types = append(types, rec["type"].(string))
	}
	assert.Equal(t, []string{"Content", "Content", "Page"}, types)
}

func TestExportTypesToFile(t *testing.T) {
	path, _ := writeFixture(t)
	target := filepath.Join(t.TempDir(), "pages.jsonl")

	_, errOut, err := execute(t, "export", "--config", path, "--type", "Page", "-o", target)
	require.NoError(t, err)
	assert.Contains(t, errOut, "exported 1 records")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "Page", rec["type"])
	assert.Equal(t, "Start", rec["fields"].(map[string]any)["title"])
}

func TestServeStopsOnCancel(t *testing.T) {
	path, _ := writeFixture(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"serve", "--config", path, "--http-port", "0", "--grpc-port", "0"})
	cmd.SetOut(&bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, cmd.ExecuteContext(ctx))

	// The final checkpoint leaves a journal that still replays
	out, _, err := execute(t, "inspect", "--config", path, "--format", "json")
	require.NoError(t, err)
	var result InspectResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 3, result.Store.Records)
}
