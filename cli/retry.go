package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kaveri/deedscan/config"
)

var retryCmd = &cobra.Command{
	Use:   "retry <batch-id>",
	Short: "admit a new batch containing only the failed documents from batch-id",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func runRetry(cmd *cobra.Command, args []string) error {
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

	newBatchID, err := d.coordinator.RetryBatch(ctx, batchID)
	if err != nil {
		return err
	}

	fmt.Printf("retry admitted as batch %s\n", newBatchID)
	return nil
}
