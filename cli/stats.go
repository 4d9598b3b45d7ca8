package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kaveri/deedscan/config"
)

var statsCmd = &cobra.Command{
	Use:   "stats <batch-id>",
	Short: "print the persisted counts for a batch",
	Long: `stats reads the persisted Batch row rather than a live Engine
snapshot, since each pipelinectl invocation is a separate process with no
access to the in-memory state of whatever process ran the batch.`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	batchID := args[0]

	cfg, err := config.LoadPipelineConfig(viper.GetViper())
	if err != nil {
		return err
	}
	log := rootLogger(cmd)

	ctx := context.Background()
	d, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	batch, err := d.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}

	fmt.Printf("batch %s (%s) status=%s total=%d succeeded=%d failed=%d cancelled=%d\n",
		batch.BatchID, batch.BatchName, batch.Status, batch.Total, batch.Succeeded, batch.Failed, batch.Cancelled)
	return nil
}
