package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kaveri/deedscan/config"
	"github.com/kaveri/deedscan/db/repository"
	"github.com/kaveri/deedscan/pipeline"
)

// runLockKey is the distributed lock pipelinectl start holds for the
// lifetime of one run, preventing two pipelinectl processes pointed at the
// same database from both claiming the same pending batch.
const runLockKey = "pipelinectl-run"

var statsInterval time.Duration

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "claim the oldest pending batch and run it to completion",
	Long: `start runs in the foreground for the lifetime of one batch: it
writes a pidfile, launches the Engine, and polls Stats() until the run
ends. Sending SIGTERM/SIGINT (or "pipelinectl stop") requests a graceful
Stop(); SIGUSR1/SIGUSR2 (or "pipelinectl toggle-ocr-mode") ask the Engine
to switch its TextExtractor, which it rejects with a logged warning while
the batch is running. start exits once its one run ends.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().DurationVar(&statsInterval, "stats-interval", 2*time.Second, "progress log interval")
}

func runStart(cmd *cobra.Command, args []string) error {
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

	// Guard the claim-and-run window with a distributed lock so a second
	// `pipelinectl start` against the same database can't race BeginRun.
	lock, err := repository.NewRedisRepository(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis for run lock: %w", err)
	}
	defer lock.Close()

	acquired, err := lock.AcquireLock(ctx, runLockKey, cfg.Engine.LLMTimeout*2)
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another pipelinectl start is already running against this database")
	}
	defer lock.ReleaseLock(ctx, runLockKey)

	embedded, ocr := buildExtractors(log)
	validator := buildValidator(log)
	engine := pipeline.NewEngine(d.coordinator, d.repo, d.files, embedded, ocr, d.structured, validator, log)

	if err := writePIDFile(cfg.PIDFile); err != nil {
		log.WithError(err).Warn("failed to write pidfile, stop/toggle-ocr-mode won't be able to signal this process")
	}
	defer os.Remove(cfg.PIDFile)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sig)

	go func() {
		for s := range sig {
			switch s {
			case syscall.SIGUSR1:
				if err := engine.ToggleEmbeddedOcr(false); err != nil {
					log.WithError(err).Warn("toggle to embedded mode rejected")
				} else {
					log.Info("switched to embedded text extraction")
				}
			case syscall.SIGUSR2:
				if err := engine.ToggleEmbeddedOcr(true); err != nil {
					log.WithError(err).Warn("toggle to ocr mode rejected")
				} else {
					log.Info("switched to ocr text extraction")
				}
			default:
				log.Info("stop requested, finishing in-flight documents")
				engine.Stop()
			}
		}
	}()

	if err := engine.Start(ctx, cfg.Engine); err != nil {
		return err
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for engine.IsRunning() {
		<-ticker.C
		snap := engine.Stats()
		log.WithFields(map[string]interface{}{
			"succeeded": snap.Succeeded, "failed": snap.Failed,
			"cancelled": snap.Cancelled, "ocr_active": snap.OCRActive,
			"llm_active": snap.LLMActive, "in_queue": snap.InQueue,
		}).Info("run progress")
	}

	final := engine.Stats()
	fmt.Printf("run finished: succeeded=%d failed=%d cancelled=%d\n", final.Succeeded, final.Failed, final.Cancelled)
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
