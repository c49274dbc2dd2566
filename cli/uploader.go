package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"airlock.evalgo.org/common"
	"airlock.evalgo.org/db"
	"airlock.evalgo.org/uploader"
)

func init() {
	RootCmd.AddCommand(uploaderCmd)
}

var uploaderCmd = &cobra.Command{
	Use:   "uploader",
	Short: "run the upload scheduler",
	Long: `Runs the upload scheduler: claims pending upload jobs from the
database, pushes the released file snapshots to the Jobs site, and
flips requests to RELEASED once their last upload lands. The scheduler
runs as its own process so the API server stays responsive while
uploads retry.`,
	RunE: runUploader,
}

func runUploader(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Jobs.APIToken == "" {
		return validationErrorf("the uploader requires jobs.api_token; there is no Jobs site to push to in dev mode")
	}
	ctx := cmd.Context()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	jobs := newJobsClient(cfg)

	sink, err := newEventSink(cfg, jobs)
	if err != nil {
		return err
	}
	defer sink.Close()

	sched := uploader.New(db.NewSchedulerStore(store), blobs, jobs, sink, uploader.Config{
		Workers:        cfg.Upload.MaxInFlight,
		MaxAttempts:    cfg.Upload.MaxAttempts,
		AttemptTimeout: cfg.Upload.AttemptTimeout,
	})
	sched.Start()
	common.Logger.WithField("workers", cfg.Upload.MaxInFlight).Info("upload scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	common.Logger.WithField("signal", sig.String()).Info("shutdown requested")

	sched.Stop()
	return nil
}
