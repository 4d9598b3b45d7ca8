// Package cli wires pipelinectl's cobra command tree to the pipeline
// package: configuration loading, backend construction (storage,
// repository, LLM client, cache), and the admit/start/stop/stats/retry/
// toggle-ocr-mode subcommands that stand in for the out-of-scope HTTP
// surface and desktop UI.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kaveri/deedscan/common"
)

var cfgFile string

// RootCmd is pipelinectl's entry point: a long-lived batch document
// pipeline operated from the terminal. Each subcommand loads its own
// PipelineConfig and constructs fresh backends, since pipelinectl has no
// background daemon beyond the one `start` keeps alive in its own process
// (see start.go and stop.go's pidfile-and-signal protocol).
var RootCmd = &cobra.Command{
	Use:   "pipelinectl",
	Short: "operate the property-deed document batch pipeline",
	Long: `pipelinectl admits batches of scanned property-sale-deed PDFs,
runs them through the two-stage OCR -> LLM extraction pipeline, and
reports on progress, from the terminal.

Configuration is read from a config file, PIPELINE_-prefixed environment
variables, and command-line flags, in ascending order of precedence.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.pipelinectl.yaml)")
	RootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	RootCmd.PersistentFlags().String("database-url", "", "Postgres connection string")
	RootCmd.PersistentFlags().String("storage-backend", "", "filestore backend: local or s3")
	RootCmd.PersistentFlags().String("local-root", "", "local filestore root directory")

	viper.BindPFlag("log-level", RootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("repository.database_url", RootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("storage.backend", RootCmd.PersistentFlags().Lookup("storage-backend"))
	viper.BindPFlag("storage.local_root", RootCmd.PersistentFlags().Lookup("local-root"))

	RootCmd.AddCommand(admitCmd, startCmd, stopCmd, statsCmd, retryCmd, toggleCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pipelinectl")
	}

	viper.SetEnvPrefix("PIPELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

// rootLogger returns the shared logrus logger, scoped to the invoking
// subcommand, suitable for the *logrus.Entry every pipeline constructor
// expects.
func rootLogger(cmd *cobra.Command) *logrus.Entry {
	if level, err := logrus.ParseLevel(viper.GetString("log-level")); err == nil {
		common.Logger.SetLevel(level)
	}
	return logrus.NewEntry(common.Logger).WithField("command", cmd.Name())
}
