package start

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/alpacahq/lfjournal/internal/di"
	"github.com/alpacahq/lfjournal/journal"
	"github.com/alpacahq/lfjournal/metrics"
	"github.com/alpacahq/lfjournal/utils"
	"github.com/alpacahq/lfjournal/utils/log"
)

const (
	usage                 = "start"
	short                 = "Open a journal and keep it synced"
	long                  = "This command opens the journal of the configuration, creates the configured catalog and serves metrics until stopped"
	example               = "lfj start --config <path>"
	defaultConfigFilePath = "./lfj.yml"
	configDesc            = "set the path for the lfj YAML configuration file"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"boot", "up"},
		Example:    example,
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return errors.Wrap(err, "failed to read configuration file")
	}

	// Don't output command usage if args(=only the filepath to lfj.yml at the moment) are correct
	cmd.SilenceUsage = true

	log.Info("using %v for configuration", configFilePath)

	config, err := utils.ParseConfig(data)
	if err != nil {
		return errors.Wrap(err, "failed to parse configuration file")
	}

	log.Info("opening journal...")
	start := time.Now()

	c := di.NewContainer(config)
	j, err := c.GetJournal()
	if err != nil {
		return err
	}

	startupTime := time.Since(start)
	metrics.StartupTime.Set(startupTime.Seconds())
	log.Info("startup time: %s", startupTime)

	go metrics.StartDiskUsageMonitor(ctx, metrics.TotalDiskUsageBytes, c.GetAbsRootDir(), config.DiskUsageInterval)

	if j.Writable() && config.SyncInterval > 0 {
		log.Info("syncing the journal every %s", config.SyncInterval)
		utils.NewProcess(ctx, "sync", config.SyncInterval, syncJob(j))
	}

	serveErr := make(chan error, 1)
	var srv *http.Server
	if config.ListenURL != "" {
		log.Info("launching prometheus metrics server on %s...", config.ListenURL)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: config.ListenURL, Handler: mux}
		go func() {
			if err2 := srv.ListenAndServe(); err2 != nil && !errors.Is(err2, http.ErrServerClosed) {
				serveErr <- err2
			}
		}()
	}

	const defaultSignalChanLen = 10
	signalChan := make(chan os.Signal, defaultSignalChanLen)
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	for {
		select {
		case s := <-signalChan:
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 request")
				if err2 := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err2 != nil {
					log.Error("failed to write goroutine pprof: %v", err2)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("initiating graceful shutdown due to '%v' request", s)
				return shutdown(ctx, cancel, c, srv, config.StopGracePeriod)
			}
		case err2 := <-serveErr:
			_ = shutdown(ctx, cancel, c, srv, 0)
			return errors.Wrap(err2, "failed to start server")
		}
	}
}

func syncJob(j *journal.Journal) utils.Job {
	return func(context.Context) (interface{}, error) {
		start := time.Now()
		if err := j.Sync(); err != nil {
			return nil, err
		}
		return time.Since(start), nil
	}
}

func shutdown(ctx context.Context, cancel context.CancelFunc, c *di.Container, srv *http.Server,
	grace time.Duration) error {
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("shutdown metrics server: %v", err)
		}
		log.Info("shutdown metrics server...")
	}
	log.Info("waiting a grace period of %v to shutdown...", grace)
	time.Sleep(grace)
	cancel()
	utils.KillAll()

	if j, err := c.GetJournal(); err == nil && j.Writable() {
		if err = j.Sync(); err != nil {
			log.Error("final sync: %v", err)
		}
	}
	err := c.Close()
	log.Info("exiting...")
	return err
}
