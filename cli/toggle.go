package cli

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kaveri/deedscan/config"
)

var toggleCmd = &cobra.Command{
	Use:   "toggle-ocr-mode <embedded|ocr>",
	Short: "ask the pipelinectl start process to switch between embedded-text and OCR extraction (rejected while its batch is running)",
	Args:  cobra.ExactArgs(1),
	RunE:  runToggle,
}

func runToggle(cmd *cobra.Command, args []string) error {
	var sig syscall.Signal
	switch args[0] {
	case "embedded":
		sig = syscall.SIGUSR1
	case "ocr":
		sig = syscall.SIGUSR2
	default:
		return fmt.Errorf("unknown mode %q, want embedded or ocr", args[0])
	}

	cfg, err := config.LoadPipelineConfig(viper.GetViper())
	if err != nil {
		return err
	}
	return signalRunningEngine(cfg.PIDFile, sig)
}
