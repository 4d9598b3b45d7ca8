package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kaveri/deedscan/config"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "ask the running pipelinectl start process to stop gracefully",
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadPipelineConfig(viper.GetViper())
	if err != nil {
		return err
	}
	return signalRunningEngine(cfg.PIDFile, syscall.SIGTERM)
}

// signalRunningEngine reads pidFile (written by `start`) and delivers sig
// to that process, the same pidfile-and-signal control pattern common
// Unix daemons use for out-of-band control commands.
func signalRunningEngine(pidFile string, sig syscall.Signal) error {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return fmt.Errorf("reading pidfile %s (is pipelinectl start running?): %w", pidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parsing pidfile %s: %w", pidFile, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	return proc.Signal(sig)
}
