package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/entgraph/internal/logger"
	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/store"
	"github.com/nainya/entgraph/pkg/value"
)

const pagesYAML = `
log:
  level: debug
store:
  wal_dir: /var/lib/entgraph
  compress: true
  checkpoint_interval: 90s
server:
  http_port: 8080
schemas:
  - name: Content
    fields:
      - name: text
        kind: text
        indexed: true
  - name: Page
    fields:
      - name: title
        kind: string
        indexed: true
      - name: views
        kind: uint
        optional: true
      - name: extra
    edges:
      - name: header
        target: Content
        cardinality: one
        policy: deep
      - name: subheader
        target: Content
        cardinality: optional
      - name: body
        target: Content
        cardinality: many
        distinct: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, store.DefaultJournalName, cfg.Store.WALName)
	assert.True(t, cfg.Store.SyncOnCommit)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, pagesYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/lib/entgraph", cfg.Store.WALDir)
	assert.True(t, cfg.Store.Compress)
	assert.True(t, cfg.Store.SyncOnCommit, "unset keys keep their defaults")
	assert.Equal(t, 90*time.Second, cfg.Store.CheckpointInterval)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	require.Len(t, cfg.Schemas, 2)
}

func TestTypeSchemas(t *testing.T) {
	cfg, err := Load(writeConfig(t, pagesYAML))
	require.NoError(t, err)

	schemas, err := cfg.TypeSchemas()
	require.NoError(t, err)
	require.Len(t, schemas, 2)

	page := schemas[1]
	assert.Equal(t, "Page", page.Name)
	require.Len(t, page.Fields, 3)
	assert.Equal(t, value.KindText, page.Fields[0].Kind)
	assert.True(t, page.Fields[0].Indexed)
	assert.Equal(t, value.KindUint64, page.Fields[1].Kind)
	assert.True(t, page.Fields[1].Optional)
	assert.Equal(t, value.KindNull, page.Fields[2].Kind, "no kind accepts anything")

	require.Len(t, page.Edges, 3)
	assert.Equal(t, ent.EdgeSpec{Name: "header", Target: "Content", Cardinality: ent.CardOne, Policy: ent.Deep}, page.Edges[0])
	assert.Equal(t, ent.CardMaybe, page.Edges[1].Cardinality)
	assert.Equal(t, ent.Shallow, page.Edges[1].Policy)
	assert.Equal(t, ent.CardMany, page.Edges[2].Cardinality)
	assert.True(t, page.Edges[2].Distinct)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"level", "log: {level: loud}", "log.level"},
		{"wal dir", "store: {wal_dir: ''}", "wal_dir"},
		{"port", "server: {http_port: 70000}", "server.http_port"},
		{"same ports", "server: {http_port: 7000, grpc_port: 7000}", "must differ"},
		{"kind", "schemas: [{name: A, fields: [{name: f, kind: decimal}]}]", "decimal"},
		{"cardinality", "schemas: [{name: A, edges: [{name: e, target: B, cardinality: few}]}]", "few"},
		{"policy", "schemas: [{name: A, edges: [{name: e, target: B, cardinality: one, policy: cascade}]}]", "cascade"},
		{"edge target", "schemas: [{name: A, edges: [{name: e, cardinality: one}]}]", "target"},
		{"distinct one", "schemas: [{name: A, edges: [{name: e, target: B, cardinality: one, distinct: true}]}]", "distinct"},
		{"duplicate type", "schemas: [{name: A}, {name: A}]", "declared twice"},
		{"unnamed type", "schemas: [{fields: [{name: f}]}]", "ent"},
		{"syntax", "log: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSchemaErrorsUnwrap(t *testing.T) {
	cfg := Default()
	cfg.Schemas = []SchemaConfig{{Name: "A", Fields: []FieldConfig{{Name: "f", Kind: "decimal"}}}}
	_, err := cfg.TypeSchemas()
	assert.ErrorIs(t, err, ent.ErrSchema)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreOptionsOpenAStore(t *testing.T) {
	cfg, err := Load(writeConfig(t, pagesYAML))
	require.NoError(t, err)
	cfg.Store.WALDir = t.TempDir()

	opts, err := cfg.StoreOptions(logger.Nop())
	require.NoError(t, err)
	j, err := store.OpenJournaled(cfg.JournalOptions(), opts)
	require.NoError(t, err)
	defer j.Close()

	assert.ElementsMatch(t, []string{"Content", "Page"}, j.Types())

	// The declared schema is enforced
	_, err = j.Insert(ent.Restore(0, "Page", 0, 0, nil, nil))
	assert.ErrorIs(t, err, ent.ErrSchema)
}
