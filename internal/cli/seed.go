package cli

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seymurkafkas/firecode"
)

const seedChunkSize = 500

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the collection with generated documents",
		Long: `Seed writes a batch of generated documents into the configured
collection. Document IDs are ULIDs, so seeded documents sort in creation
order and interleave cleanly with repeated runs.`,
		RunE: runSeed,
	}
	addStoreFlags(cmd)
	cmd.Flags().Int("count", 1000, "number of documents to create")
	cmd.Flags().Int("workers", 4, "concurrent insert workers")
	return cmd
}

func runSeed(cmd *cobra.Command, _ []string) error {
	count, _ := cmd.Flags().GetInt("count")
	workers, _ := cmd.Flags().GetInt("workers")
	if count < 1 {
		return fmt.Errorf("count must be positive, got %d", count)
	}
	if workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", workers)
	}

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	coll, closeFn, err := openCollection(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn(ctx) }()

	logger.Info().
		Int("count", count).
		Int("workers", workers).
		Str("collection", cfg.Store.Collection).
		Msg("seeding collection")

	bar := newProgressBar(count, "seeding")
	start := time.Now()

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for offset := 0; offset < count; offset += seedChunkSize {
		size := seedChunkSize
		if rest := count - offset; rest < size {
			size = rest
		}
		first := offset
		group.Go(func() error {
			writes := make([]firecode.Write[map[string]any], 0, size)
			for i := 0; i < size; i++ {
				doc := map[string]any{
					"seq":       first + i,
					"status":    "new",
					"createdAt": time.Now().UTC(),
				}
				writes = append(writes, firecode.NewSetWrite(ulid.Make().String(), doc, false))
			}
			if err := coll.CommitBatchWrite(gctx, writes); err != nil {
				return fmt.Errorf("seeding documents %d-%d: %w", first, first+size-1, err)
			}
			_ = bar.Add(size)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	_ = bar.Finish()

	logger.Info().
		Int("count", count).
		Dur("elapsed", time.Since(start)).
		Msg("seeding complete")
	cmd.Printf("seeded %d documents into %s.%s\n", count, cfg.Store.Database, cfg.Store.Collection)
	return nil
}
