package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/seymurkafkas/firecode"
	"github.com/seymurkafkas/firecode/mongodb"
)

// Store configuration errors.
var (
	ErrMissingURI        = errors.New("store.uri is required")
	ErrMissingDatabase   = errors.New("store.database is required")
	ErrMissingCollection = errors.New("store.collection is required")
)

// Config holds the settings shared by every subcommand. Values come from an
// optional YAML file and are overridden by flags.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Traversal TraversalConfig `yaml:"traversal"`
}

// StoreConfig selects the MongoDB collection to operate on.
type StoreConfig struct {
	URI          string `yaml:"uri"`
	Database     string `yaml:"database"`
	Collection   string `yaml:"collection"`
	Transactions bool   `yaml:"transactions"`
}

// TraversalConfig mirrors the engine's traversal settings in YAML form.
type TraversalConfig struct {
	BatchSize           int      `yaml:"batchSize"`
	DelayBetweenBatches Duration `yaml:"delayBetweenBatches"`
	MaxDocCount         int      `yaml:"maxDocCount"`
	Concurrency         int      `yaml:"concurrency"`
}

// Duration lets YAML configs spell durations the Go way, e.g. "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Validate checks that the store is fully addressed and the traversal
// settings are acceptable to the engine, reporting every violation at once.
func (c Config) Validate() error {
	var errs *multierror.Error
	if c.Store.URI == "" {
		errs = multierror.Append(errs, ErrMissingURI)
	}
	if c.Store.Database == "" {
		errs = multierror.Append(errs, ErrMissingDatabase)
	}
	if c.Store.Collection == "" {
		errs = multierror.Append(errs, ErrMissingCollection)
	}
	if err := c.traversalConfig().Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func (c Config) traversalConfig() firecode.TraversalConfig {
	return firecode.TraversalConfig{
		BatchSize:               c.Traversal.BatchSize,
		DelayBetweenBatches:     time.Duration(c.Traversal.DelayBetweenBatches),
		MaxDocCount:             c.Traversal.MaxDocCount,
		MaxConcurrentBatchCount: c.Traversal.Concurrency,
	}
}

// LoadConfig reads and strictly decodes a YAML config file; unknown keys
// are errors so typos do not silently fall back to defaults.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// addStoreFlags registers the flags addressing the backing collection.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("uri", "", "MongoDB connection URI")
	cmd.Flags().String("database", "", "database name")
	cmd.Flags().String("collection", "", "collection name")
	cmd.Flags().Bool("transactions", false, "commit batch writes inside transactions (requires a replica set)")
}

// addTraversalFlags registers the flags tuning the traversal.
func addTraversalFlags(cmd *cobra.Command) {
	cmd.Flags().Int("batch-size", 0, "documents per batch (0 = engine default)")
	cmd.Flags().Duration("delay", 0, "pause between batches")
	cmd.Flags().Int("max-docs", 0, "stop after this many documents (0 = unbounded)")
	cmd.Flags().Int("concurrency", 0, "concurrent batches with --fast (0 = engine default)")
	cmd.Flags().Bool("fast", false, "overlap batch callbacks for throughput")
}

// resolveConfig assembles the effective configuration: the optional YAML
// file first, then any explicitly set flags on top.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	var cfg Config
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	applyFlagOverrides(&cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFlagOverrides(cfg *Config, cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("uri") {
		cfg.Store.URI, _ = flags.GetString("uri")
	}
	if flags.Changed("database") {
		cfg.Store.Database, _ = flags.GetString("database")
	}
	if flags.Changed("collection") {
		cfg.Store.Collection, _ = flags.GetString("collection")
	}
	if flags.Changed("transactions") {
		cfg.Store.Transactions, _ = flags.GetBool("transactions")
	}
	if flags.Changed("batch-size") {
		cfg.Traversal.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("delay") {
		delay, _ := flags.GetDuration("delay")
		cfg.Traversal.DelayBetweenBatches = Duration(delay)
	}
	if flags.Changed("max-docs") {
		cfg.Traversal.MaxDocCount, _ = flags.GetInt("max-docs")
	}
	if flags.Changed("concurrency") {
		cfg.Traversal.Concurrency, _ = flags.GetInt("concurrency")
	}
}

// openCollection connects to the configured MongoDB collection.
func openCollection(ctx context.Context, cfg Config) (*mongodb.Collection[map[string]any], func(context.Context) error, error) {
	var opts []mongodb.Option
	if cfg.Store.Transactions {
		opts = append(opts, mongodb.WithTransactions())
	}
	return mongodb.Connect[map[string]any](ctx, cfg.Store.URI, cfg.Store.Database, cfg.Store.Collection, opts...)
}

// openTraverser connects to the configured collection and builds the
// requested traverser variant over it, with the CLI logger attached.
func openTraverser(ctx context.Context, cfg Config, fast bool) (firecode.Traverser[map[string]any], func(context.Context) error, error) {
	coll, closeFn, err := openCollection(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var tr firecode.Traverser[map[string]any]
	if fast {
		tr, err = firecode.NewFastTraverser[map[string]any](coll, cfg.traversalConfig())
	} else {
		tr, err = firecode.NewTraverser[map[string]any](coll, cfg.traversalConfig())
	}
	if err != nil {
		_ = closeFn(ctx)
		return nil, nil, err
	}
	return tr.WithLogger(logger), closeFn, nil
}
