package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/seymurkafkas/firecode"
)

func newCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count documents by traversing the collection",
		Long: `Count walks the whole collection batch by batch and reports how many
documents and batches it saw. Useful as a dry run for the traversal
settings a migration will use.`,
		RunE: runCount,
	}
	addStoreFlags(cmd)
	addTraversalFlags(cmd)
	return cmd
}

func runCount(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	fast, _ := cmd.Flags().GetBool("fast")

	ctx := cmd.Context()
	tr, closeFn, err := openTraverser(ctx, cfg, fast)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn(ctx) }()

	bar := newProgressBar(-1, "counting")
	start := time.Now()
	res, err := tr.Traverse(ctx, func(_ context.Context, batch firecode.Batch[map[string]any]) error {
		_ = bar.Add(batch.Size())
		return nil
	})
	if err != nil {
		return err
	}
	_ = bar.Finish()

	logger.Info().
		Int("docs", res.DocCount).
		Int("batches", res.BatchCount).
		Dur("elapsed", time.Since(start)).
		Msg("count complete")
	cmd.Printf("%d documents in %d batches\n", res.DocCount, res.BatchCount)
	return nil
}
