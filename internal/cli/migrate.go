package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/seymurkafkas/firecode"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply a bulk mutation to every matching document",
		Long: `Migrate traverses the collection and applies one mutation per matching
document, committed in atomic batch writes. Use --where to restrict the
migration to documents whose field matches a value.`,
	}
	cmd.AddCommand(newMigrateSetCmd(), newMigrateUpdateCmd(), newDeleteFieldCmd(), newRenameFieldCmd())
	return cmd
}

func newMigrateSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <json-document>",
		Short: "Replace matching documents with a JSON payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseJSONObject(args[0])
			if err != nil {
				return err
			}
			merge, _ := cmd.Flags().GetBool("merge")
			var opts []firecode.SetOption
			if merge {
				opts = append(opts, firecode.WithMerge())
			}
			return runMigration(cmd, func(ctx context.Context, m firecode.Migrator[map[string]any]) (firecode.MigrationResult, error) {
				return m.Set(ctx, data, opts...)
			})
		},
	}
	addMigrationFlags(cmd)
	cmd.Flags().Bool("merge", false, "merge the payload into existing documents instead of replacing them")
	return cmd
}

func newMigrateUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <json-fields>",
		Short: "Patch fields on matching documents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unset, _ := cmd.Flags().GetStringSlice("unset")
			var raw string
			if len(args) == 1 {
				raw = args[0]
			}
			fields, err := buildUpdateFields(raw, unset)
			if err != nil {
				return err
			}
			return runMigration(cmd, func(ctx context.Context, m firecode.Migrator[map[string]any]) (firecode.MigrationResult, error) {
				return m.Update(ctx, fields)
			})
		},
	}
	addMigrationFlags(cmd)
	cmd.Flags().StringSlice("unset", nil, "field names to delete from matching documents")
	return cmd
}

func newDeleteFieldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-field <field>...",
		Short: "Delete fields from matching documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, func(ctx context.Context, m firecode.Migrator[map[string]any]) (firecode.MigrationResult, error) {
				return firecode.DeleteFields(ctx, m, args...)
			})
		},
	}
	addMigrationFlags(cmd)
	return cmd
}

func newRenameFieldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename-field <old> <new>",
		Short: "Rename a field on matching documents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, func(ctx context.Context, m firecode.Migrator[map[string]any]) (firecode.MigrationResult, error) {
				return firecode.RenameField(ctx, m, args[0], args[1])
			})
		},
	}
	addMigrationFlags(cmd)
	return cmd
}

func addMigrationFlags(cmd *cobra.Command) {
	addStoreFlags(cmd)
	addTraversalFlags(cmd)
	cmd.Flags().String("where", "", "only migrate documents matching field=value (field alone tests existence)")
}

// runMigration wires the shared plumbing: config resolution, connection,
// migrator construction, the --where predicate, progress reporting, and the
// final summary line.
func runMigration(cmd *cobra.Command, apply func(ctx context.Context, m firecode.Migrator[map[string]any]) (firecode.MigrationResult, error)) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	fast, _ := cmd.Flags().GetBool("fast")
	where, _ := cmd.Flags().GetString("where")

	predicate, err := parsePredicate(where)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	tr, closeFn, err := openTraverser(ctx, cfg, fast)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn(ctx) }()

	m, err := firecode.NewMigrator[map[string]any](tr)
	if err != nil {
		return err
	}
	if predicate != nil {
		m = m.WithPredicate(predicate)
	}

	runLogger := logger.With().Str("run_id", uuid.NewString()).Logger()
	runLogger.Info().
		Str("collection", cfg.Store.Collection).
		Bool("fast", fast).
		Str("where", where).
		Msg("migration started")

	bar := newProgressBar(-1, "migrating")
	m.OnAfterBatchComplete(func(batch firecode.Batch[map[string]any]) {
		_ = bar.Add(batch.Size())
	})

	start := time.Now()
	res, err := apply(ctx, m)
	if err != nil {
		runLogger.Error().Err(err).Msg("migration failed")
		return err
	}
	_ = bar.Finish()

	runLogger.Info().
		Int("migrated", res.MigratedDocCount).
		Int("traversed", res.DocCount).
		Int("batches", res.BatchCount).
		Dur("elapsed", time.Since(start)).
		Msg("migration complete")
	cmd.Printf("migrated %d of %d documents (%d batches)\n", res.MigratedDocCount, res.DocCount, res.BatchCount)
	return nil
}

// parsePredicate turns a --where expression into a document predicate. An
// empty expression means no predicate; "field" alone tests the field's
// existence; "field=value" compares the field's string rendering.
func parsePredicate(where string) (firecode.Predicate[map[string]any], error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return nil, nil
	}
	field, want, hasValue := strings.Cut(where, "=")
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, fmt.Errorf("invalid --where expression %q: missing field name", where)
	}
	if !hasValue {
		return func(doc firecode.Document[map[string]any]) bool {
			_, ok := doc.Data[field]
			return ok
		}, nil
	}
	want = strings.TrimSpace(want)
	return func(doc firecode.Document[map[string]any]) bool {
		got, ok := doc.Data[field]
		return ok && fmt.Sprint(got) == want
	}, nil
}

// parseJSONObject decodes a JSON object argument into a document payload.
func parseJSONObject(raw string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("invalid JSON object %q: %w", raw, err)
	}
	return data, nil
}

// buildUpdateFields merges the JSON patch argument with the --unset list
// into one field update. Unsets win over values for the same field name.
func buildUpdateFields(raw string, unset []string) (firecode.UpdateFields, error) {
	fields := firecode.UpdateFields{}
	if strings.TrimSpace(raw) != "" {
		patch, err := parseJSONObject(raw)
		if err != nil {
			return nil, err
		}
		for name, value := range patch {
			fields[name] = value
		}
	}
	for _, name := range unset {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, firecode.ErrEmptyFieldName
		}
		fields[name] = firecode.Delete
	}
	if len(fields) == 0 {
		return nil, firecode.ErrNoUpdateFields
	}
	return fields, nil
}
