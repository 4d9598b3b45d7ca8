package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kaveri/deedscan/config"
)

var admitCmd = &cobra.Command{
	Use:   "admit <dir>",
	Short: "admit every PDF in dir as a new pending batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdmit,
}

func runAdmit(cmd *cobra.Command, args []string) error {
	dir := args[0]
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".pdf" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return fmt.Errorf("no .pdf files found in %s", dir)
	}

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

	batchID, err := d.coordinator.NewBatch(ctx, paths)
	if err != nil {
		return err
	}

	fmt.Printf("admitted batch %s with %d documents\n", batchID, len(paths))
	return nil
}
