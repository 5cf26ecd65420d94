// Package config loads the YAML configuration of the entgraph service
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nainya/entgraph/internal/logger"
	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/store"
	"github.com/nainya/entgraph/pkg/value"
	"github.com/nainya/entgraph/pkg/wal"
)

// Config is the root of the configuration file
type Config struct {
	Log     LogConfig      `yaml:"log"`
	Store   StoreConfig    `yaml:"store"`
	Server  ServerConfig   `yaml:"server"`
	Schemas []SchemaConfig `yaml:"schemas"`
}

// LogConfig mirrors logger.Config
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	Caller bool   `yaml:"caller"`
}

// StoreConfig configures the journaled store
type StoreConfig struct {
	WALDir             string        `yaml:"wal_dir"`
	WALName            string        `yaml:"wal_name"`
	SyncOnCommit       bool          `yaml:"sync_on_commit"`
	Compress           bool          `yaml:"compress"`
	MaxFileSize        int64         `yaml:"max_file_size"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	DisableIndexes     bool          `yaml:"disable_indexes"`
}

// ServerConfig configures the observability endpoints
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SchemaConfig declares one record type
type SchemaConfig struct {
	Name   string        `yaml:"name"`
	Fields []FieldConfig `yaml:"fields"`
	Edges  []EdgeConfig  `yaml:"edges"`
}

// FieldConfig declares one field. An empty or "any" kind accepts every kind.
type FieldConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Indexed  bool   `yaml:"indexed"`
	Optional bool   `yaml:"optional"`
}

// EdgeConfig declares one edge
type EdgeConfig struct {
	Name        string `yaml:"name"`
	Target      string `yaml:"target"`
	Cardinality string `yaml:"cardinality"`
	Policy      string `yaml:"policy"`
	Distinct    bool   `yaml:"distinct"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Store: StoreConfig{
			WALDir:             "./data",
			WALName:            store.DefaultJournalName,
			SyncOnCommit:       true,
			MaxFileSize:        wal.DefaultMaxFileSize,
			CheckpointInterval: wal.DefaultCheckpointInterval,
		},
		Server: ServerConfig{
			HTTPPort:        9090,
			GRPCPort:        50051,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads path over the defaults and validates the result
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and converts every schema once
func (c Config) Validate() error {
	var errs []error
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if c.Store.WALDir == "" {
		errs = append(errs, errors.New("store.wal_dir is required"))
	}
	if c.Store.MaxFileSize < 0 {
		errs = append(errs, errors.New("store.max_file_size must not be negative"))
	}
	if c.Store.CheckpointInterval < 0 {
		errs = append(errs, errors.New("store.checkpoint_interval must not be negative"))
	}
	for name, port := range map[string]int{"server.http_port": c.Server.HTTPPort, "server.grpc_port": c.Server.GRPCPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s: %d out of range", name, port))
		}
	}
	if c.Server.HTTPPort != 0 && c.Server.HTTPPort == c.Server.GRPCPort {
		errs = append(errs, errors.New("server.http_port and server.grpc_port must differ"))
	}
	if _, err := c.TypeSchemas(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TypeSchemas converts the declared schemas into validated ent schemas
func (c Config) TypeSchemas() ([]*ent.TypeSchema, error) {
	out := make([]*ent.TypeSchema, 0, len(c.Schemas))
	seen := make(map[string]bool, len(c.Schemas))
	for _, sc := range c.Schemas {
		ts, err := sc.TypeSchema()
		if err != nil {
			return nil, err
		}
		if seen[ts.Name] {
			return nil, &ent.SchemaError{Type: ts.Name, Reason: "declared twice"}
		}
		seen[ts.Name] = true
		out = append(out, ts)
	}
	return out, nil
}

// TypeSchema converts one declaration
func (sc SchemaConfig) TypeSchema() (*ent.TypeSchema, error) {
	ts := &ent.TypeSchema{Name: sc.Name}
	for _, f := range sc.Fields {
		kind := value.KindNull
		if k := strings.TrimSpace(f.Kind); k != "" && k != "any" {
			parsed, err := value.ParseKind(k)
			if err != nil {
				return nil, &ent.SchemaError{Type: sc.Name, Name: f.Name, Reason: err.Error()}
			}
			kind = parsed
		}
		ts.Fields = append(ts.Fields, ent.FieldSpec{
			Name:     f.Name,
			Kind:     kind,
			Indexed:  f.Indexed,
			Optional: f.Optional,
		})
	}
	for _, e := range sc.Edges {
		card, err := ent.ParseCardinality(e.Cardinality)
		if err != nil {
			return nil, &ent.SchemaError{Type: sc.Name, Name: e.Name, Reason: err.Error()}
		}
		policy, err := ent.ParseDeletionPolicy(e.Policy)
		if err != nil {
			return nil, &ent.SchemaError{Type: sc.Name, Name: e.Name, Reason: err.Error()}
		}
		ts.Edges = append(ts.Edges, ent.EdgeSpec{
			Name:        e.Name,
			Target:      e.Target,
			Cardinality: card,
			Policy:      policy,
			Distinct:    e.Distinct,
		})
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	return ts, nil
}

// Logger builds the logger described by the log section
func (c Config) Logger() *logger.Logger {
	return logger.NewLogger(logger.Config{
		Level:      c.Log.Level,
		Pretty:     c.Log.Pretty,
		WithCaller: c.Log.Caller,
	})
}

// JournalOptions returns the store journal settings
func (c Config) JournalOptions() store.JournalOptions {
	return store.JournalOptions{
		Dir:                c.Store.WALDir,
		Name:               c.Store.WALName,
		SyncOnCommit:       c.Store.SyncOnCommit,
		Compress:           c.Store.Compress,
		MaxFileSize:        c.Store.MaxFileSize,
		CheckpointInterval: c.Store.CheckpointInterval,
	}
}

// StoreOptions returns store options carrying the configured schemas
func (c Config) StoreOptions(log *logger.Logger) (store.Options, error) {
	schemas, err := c.TypeSchemas()
	if err != nil {
		return store.Options{}, err
	}
	opts := store.DefaultOptions()
	opts.Logger = log
	opts.Schemas = schemas
	opts.DisableIndexes = c.Store.DisableIndexes
	return opts, nil
}
