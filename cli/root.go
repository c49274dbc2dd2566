// Package cli provides the airlock command-line interface: the API
// server itself, the upload scheduler, and the operator tooling around
// them (audit log queries, scripted request creation, the state machine
// reference).
//
// The root command runs the HTTP API server. Long-running commands
// handle SIGINT and SIGTERM with a graceful drain; one-shot commands
// exit with stable status codes so scripts can dispatch on the failure
// class:
//
//	0  success
//	1  validation failure (bad flags, bad config, bad input)
//	2  state error (the operation is not legal right now)
//	3  I/O or upstream failure
//
// Configuration is loaded through the config package: airlock.yaml in
// the standard locations, overridden by AIRLOCK_* environment
// variables, overridden by flags.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"airlock.evalgo.org/api"
	"airlock.evalgo.org/auth"
	"airlock.evalgo.org/common"
	"airlock.evalgo.org/config"
	"airlock.evalgo.org/controller"
	"airlock.evalgo.org/db"
	"airlock.evalgo.org/events"
	airlockhttp "airlock.evalgo.org/http"
	"airlock.evalgo.org/jobserver"
	"airlock.evalgo.org/request"
	"airlock.evalgo.org/storage"
	"airlock.evalgo.org/workspace"
)

// cfgFile holds the --config flag value; empty means the standard
// search path.
var cfgFile string

// RootCmd is the airlock command. Run without a subcommand it starts
// the API server.
var RootCmd = &cobra.Command{
	Use:   "airlock",
	Short: "release-request review service",
	Long: `Airlock mediates the release of analytic outputs from a secure
environment: authors bundle output files into release requests,
output checkers review them blind to each other's votes, and approved
files are pushed to the external Jobs site.

Run without a subcommand this starts the HTTP API server. The upload
scheduler runs as a separate process, see "airlock uploader".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: airlock.yaml in the standard locations)")
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		common.Logger.Error(err.Error())
		return exitCode(err)
	}
	return 0
}

// exitCode maps an error onto the documented exit code classes.
func exitCode(err error) int {
	var reqErr *request.Error
	if errors.As(err, &reqErr) {
		switch reqErr.Kind {
		case request.KindInvalidTransition, request.KindConflict:
			return 2
		case request.KindPermissionDenied, request.KindPrecondition, request.KindInvariant:
			return 1
		default:
			return 3
		}
	}
	var valErr *validationError
	if errors.As(err, &valErr) {
		return 1
	}
	return 3
}

// validationError marks input and configuration failures for exit code
// mapping.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// loadConfig loads and validates the configuration, classifying
// failures as validation errors.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, &validationError{msg: err.Error()}
	}
	configureLogging(cfg)
	return cfg, nil
}

// configureLogging applies the configured level and format to the
// global logger.
func configureLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	common.Logger.SetLevel(level)
	if cfg.Logging.Format == "json" {
		common.Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		common.Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// openStore connects to postgres with the configured pool settings.
func openStore(cfg *config.Config) (*db.Store, error) {
	return db.Open(cfg.Database.URL, db.Options{
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}

// newBlobStore builds the snapshot store for the configured backend.
func newBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Options{
			URL:       cfg.Storage.S3.URL,
			Region:    cfg.Storage.S3.Region,
			Bucket:    cfg.Storage.S3.Bucket,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
		})
	default:
		return storage.NewFilesystemStore(cfg.Dirs.RequestDir)
	}
}

// newJobsClient builds the Jobs site client, or nil when this
// deployment runs against a dev users file instead.
func newJobsClient(cfg *config.Config) *jobserver.Client {
	if cfg.Jobs.APIToken == "" {
		return nil
	}
	return jobserver.NewClient(jobserver.Options{
		Endpoint: cfg.Jobs.APIEndpoint,
		Token:    cfg.Jobs.APIToken,
	})
}

// newAuthService wires the authenticator and the capability cache.
func newAuthService(ctx context.Context, cfg *config.Config, jobs *jobserver.Client) (*auth.Service, error) {
	var authenticator auth.Authenticator
	if jobs != nil {
		authenticator = jobs
	} else {
		devAuth, err := auth.NewDevUsersAuthenticator(cfg.Auth.DevUsersFile)
		if err != nil {
			return nil, err
		}
		authenticator = devAuth
		common.Logger.WithField("file", cfg.Auth.DevUsersFile).
			Warn("authenticating against a local dev users file")
	}

	var cache auth.CapabilityCache
	if cfg.Auth.RedisURL != "" {
		redisCache, err := auth.NewRedisCache(ctx, cfg.Auth.RedisURL, cfg.Auth.AuthzRefresh)
		if err != nil {
			return nil, err
		}
		cache = redisCache
	} else {
		cache = auth.NewMemoryCache(cfg.Auth.AuthzRefresh)
	}

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenLifetime)
	return auth.NewService(authenticator, tokens, cache), nil
}

// newEventSink assembles the lifecycle event fanout: the AMQP queue
// when configured, plus the Jobs site notifier when tracker
// coordinates are set.
func newEventSink(cfg *config.Config, jobs *jobserver.Client) (events.Sink, error) {
	var sinks events.Fanout
	if cfg.Events.AMQPURL != "" {
		amqpSink, err := events.NewAMQPSink(cfg.Events.AMQPURL, cfg.Events.Queue)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, amqpSink)
	}
	if jobs != nil && cfg.Jobs.OutputCheckingOrg != "" {
		sinks = append(sinks, jobserver.NewNotifier(jobs))
	}
	if len(sinks) == 0 {
		return events.NopSink{}, nil
	}
	return sinks, nil
}

// runServer wires the full stack and serves the API until SIGINT or
// SIGTERM.
func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	hashCache, err := workspace.OpenHashCache(cfg.Cache.BoltPath)
	if err != nil {
		return err
	}
	defer hashCache.Close()
	workspaces := workspace.NewService(cfg.Dirs.WorkspaceDir, hashCache)

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	jobs := newJobsClient(cfg)
	if jobs != nil {
		common.Logger.WithField("endpoint", cfg.Jobs.APIEndpoint).
			WithField("token", common.MaskSecret(cfg.Jobs.APIToken)).
			Info("using the Jobs site API")
	}

	authSvc, err := newAuthService(ctx, cfg, jobs)
	if err != nil {
		return err
	}

	sink, err := newEventSink(cfg, jobs)
	if err != nil {
		return err
	}
	defer sink.Close()

	var registrar controller.ReleaseRegistrar
	if jobs != nil {
		registrar = jobs
	}
	ctrl := controller.New(controller.NewGormStore(store), workspaces, blobs, sink, registrar, controller.Options{
		UploadJobDeadline: cfg.Upload.JobDeadline,
	})

	serverCfg := airlockhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Debug:           cfg.Server.Debug,
		BodyLimit:       cfg.Server.BodyLimit,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimit:       cfg.Server.RateLimit,
	}
	e := airlockhttp.NewEchoServer(serverCfg)
	api.New(authSvc, ctrl, workspaces).SetupRoutes(e)

	errCh := make(chan error, 1)
	go func() {
		if err := airlockhttp.StartServer(e, serverCfg); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		common.Logger.WithField("signal", sig.String()).Info("shutdown requested")
	}

	return airlockhttp.GracefulShutdown(e, cfg.Server.ShutdownTimeout)
}
