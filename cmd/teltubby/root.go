package main

import (
	"context"
	"fmt"
	"net/url"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	auth "github.com/teltubby/teltubby/internal/adminauth"
	"github.com/teltubby/teltubby/internal/aggregator"
	"github.com/teltubby/teltubby/internal/authrecovery"
	"github.com/teltubby/teltubby/internal/config"
	"github.com/teltubby/teltubby/internal/dispatch"
	httpapi "github.com/teltubby/teltubby/internal/httpapi"
	"github.com/teltubby/teltubby/internal/ingest"
	queue "github.com/teltubby/teltubby/internal/jobqueue"
	"github.com/teltubby/teltubby/internal/metrics"
	"github.com/teltubby/teltubby/internal/notify"
	"github.com/teltubby/teltubby/internal/objstore"
	"github.com/teltubby/teltubby/internal/quota"
	"github.com/teltubby/teltubby/internal/store"
	"github.com/teltubby/teltubby/internal/telemetry"
	"github.com/teltubby/teltubby/internal/transport"
	"github.com/teltubby/teltubby/internal/worker"
)

// cfgFile and envPrefix back the --config and --env-prefix flags; config.Load
// treats a missing file as "no file layer" rather than an error.
var (
	cfgFile   string
	envPrefix string
)

// RootCmd is the single command this binary exposes: load configuration,
// wire every component, and serve until SIGINT/SIGTERM.
var RootCmd = &cobra.Command{
	Use:   "teltubby",
	Short: "archives forwarded chat media into an object store",
	Long: `teltubby watches a chat platform for forwarded media, deduplicates it by
content hash, and archives it into an S3-compatible bucket under a
deterministic key layout. Oversize files are routed through a durable job
queue and a separate worker using a higher-limit transport.

Configuration is read from environment variables (TELTUBBY_* by default),
optionally layered over a YAML file given via --config.`,
	RunE:          runServer,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.Flags().StringVar(&cfgFile, "config", "", "optional YAML config file layered under environment variables")
	RootCmd.Flags().StringVar(&envPrefix, "env-prefix", "TELTUBBY", "prefix for environment-variable configuration keys")
}

// runServer builds every component from configuration and runs the process
// until ctx is cancelled by a signal, returning nil for a graceful shutdown
// and a non-nil error for a fatal startup failure.
func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.Load(envPrefix, cfgFile)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	logger := telemetry.NewLogger(telemetry.LoggerConfig{
		Level:  telemetry.LogLevel(cfg.Observability.LogLevel),
		Format: "json",
	})
	log := telemetry.NewContextLogger(logger, map[string]interface{}{"component": "main"})

	ctx, stop := signalContext()
	defer stop()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	obj, err := objstore.NewClient(ctx, objstore.Config{
		Endpoint:        cfg.ObjectStore.Endpoint,
		Region:          cfg.ObjectStore.Region,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		Bucket:          cfg.ObjectStore.Bucket,
		UsePathStyle:    cfg.ObjectStore.PathStyle,
		VerifyTLS:       cfg.ObjectStore.VerifyTLS,
		IOTimeout:       time.Duration(cfg.Dispatch.IOTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("build object store client: %w", err)
	}
	if err := obj.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	m := metrics.NewMetrics("teltubby")

	tracker := quota.NewTracker(cfg.Quota.BucketQuota, func(ctx context.Context) (int64, error) {
		infos, err := obj.List(ctx, "")
		if err != nil {
			return 0, err
		}
		var total int64
		for _, info := range infos {
			total += info.Size
		}
		return total, nil
	})

	// The concrete chat-platform client and the alternate high-limit
	// transport are external collaborators per spec: this process wires
	// their interfaces but ships no implementation of either. Every
	// component downstream already degrades to a documented simulate mode
	// when its collaborator is nil, which is what happens here.
	var chat transport.ChatClient
	var alt transport.AltTransportClient

	notifier := notify.New(chat, cfg.Bot.AdminIDs, log.WithField("component", "notify"))

	jobsAdapter, err := dialJobQueue(cfg, log)
	if err != nil {
		log.WithError(err).Warn("job queue unavailable at startup; large-file path disabled until the broker returns")
	} else {
		defer jobsAdapter.Close()
	}

	var recoverer worker.Recoverer
	var authMgr *authrecovery.Manager
	if alt != nil {
		authMgr = authrecovery.New(authrecovery.Config{}, st, alt, notifier, m)
		recoverer = authMgr
	}

	var wg sync.WaitGroup

	var wk *worker.Worker
	if jobsAdapter != nil {
		wk = worker.New(worker.Config{
			Concurrency: cfg.Worker.Concurrency,
			MaxRetries:  cfg.Worker.MaxRetries,
			RetryDelay:  cfg.Worker.RetryDelay,
			IOTimeout:   time.Duration(cfg.Dispatch.IOTimeoutSeconds) * time.Second,
		}, st, obj, jobsAdapter, alt, chat, recoverer, m, log.WithField("component", "worker"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := wk.Run(ctx, "teltubby-worker"); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("worker exited")
			}
		}()
	}

	if authMgr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := authMgr.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("auth recovery loop exited")
			}
		}()
	}

	agg := aggregator.New(time.Duration(cfg.Album.WindowSeconds) * time.Second)
	pipeline := ingest.New(ingest.Config{
		SmallPathLimitBytes:   cfg.Ingest.SmallPathLimitBytes,
		MaxFileBytes:          int64(cfg.Ingest.MaxFileGiB) * 1024 * 1024 * 1024,
		Bucket:                cfg.ObjectStore.Bucket,
		ThumbnailEnabled:      cfg.Ingest.ThumbnailEnabled,
		ThumbnailMaxDimension: cfg.Ingest.ThumbnailMaxDimension,
	}, st, obj, chat, m)

	var workerSim dispatch.Simulator
	if wk != nil {
		workerSim = wk
	}
	var authSim dispatch.Simulator
	if authMgr != nil {
		authSim = authMgr
	}

	dispatcher := dispatch.New(dispatch.Config{
		Admins:              cfg.Bot.AdminIDs,
		FlushInterval:       dispatch.DefaultFlushInterval,
		SmallPathLimitBytes: cfg.Ingest.SmallPathLimitBytes,
		WorkerMaxRetries:    cfg.Worker.MaxRetries,
		BotMode:             cfg.Bot.Mode,
	}, agg, pipeline, jobsAdapter, st, obj, chat, notifier, tracker, m, workerSim, authSim, log.WithField("component", "dispatch"))

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.RunFlusher(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("album flusher exited")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		refreshMetrics(ctx, st, jobsAdapter, tracker, cfg.Broker.JobsQueue, m)
	}()

	rcfg := httpapi.DefaultRunServerConfig(cfg.Observability.HealthPort)
	if !cfg.Observability.LocalhostOnly {
		rcfg.Host = "0.0.0.0"
		if cfg.Observability.StatusToken != "" {
			rcfg.TokenService = auth.NewTokenService(cfg.Observability.StatusToken, 0)
		}
	}

	deps := httpapi.Deps{
		Store:        st,
		ObjectStore:  obj,
		Jobs:         jobsAdapter,
		Worker:       workerSim,
		AuthRecovery: authSim,
		CheckTimeout: 5 * time.Second,
	}

	serveErr := httpapi.RunServer(ctx, rcfg, deps, cfg, log)

	stop()
	wg.Wait()

	if serveErr != nil && ctx.Err() == nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	log.Info("shutdown complete")
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, satisfying
// spec's "process terminates with 0 on graceful shutdown" requirement.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// brokerURL builds the amqp:// connection string from discrete broker
// settings, correctly encoding the AMQP default-vhost convention (an empty
// or "/" vhost becomes a bare trailing slash, not "/%2F").
func brokerURL(cfg config.BrokerConfig) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Pass),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + url.QueryEscape(strings.TrimPrefix(cfg.Vhost, "/")),
	}
	return u.String()
}

// dialJobQueue connects to the broker and declares the full C7 topology.
func dialJobQueue(cfg config.AppConfig, log *telemetry.ContextLogger) (*queue.Adapter, error) {
	return queue.New(brokerURL(cfg.Broker), queue.Config{
		JobsExchange: cfg.Broker.JobsExchange,
		JobsQueue:    cfg.Broker.JobsQueue,
		DLXExchange:  cfg.Broker.DLXExchange,
		DLQQueue:     cfg.Broker.DLQQueue,
	}, &queue.RealAMQPDialer{})
}

// refreshMetrics periodically republishes gauges that have no natural
// write-side trigger: queue depth and the per-state job tally.
func refreshMetrics(ctx context.Context, st *store.Store, jobs *queue.Adapter, tracker *quota.Tracker, queueName string, m *metrics.Metrics) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetQuotaRatio(tracker.UsedRatio(ctx))

			if jobs != nil {
				if depth, err := jobs.Depth(); err == nil {
					m.SetQueueDepth(queueName, depth)
				}
			}

			jobRows, err := st.ListJobs(ctx, 1000)
			if err != nil {
				continue
			}
			counts := map[store.JobState]int{}
			for _, j := range jobRows {
				counts[j.State]++
			}
			for _, state := range []store.JobState{
				store.JobPending, store.JobProcessing, store.JobCompleted,
				store.JobFailed, store.JobRetrying, store.JobCancelled,
			} {
				m.SetJobsByState(string(state), counts[state])
			}
		}
	}
}
