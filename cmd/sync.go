package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/api"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/clock/system"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/config"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/driver"
	collydriver "github.com/JakeFAU/arena-leaderboard-sync/internal/driver/colly"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/driver/headless"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/escalation"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/extract"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/hash/sha256"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/id/uuid"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/logging"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/metrics"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/policy/ratelimit"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/publisher/pubsub"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/staleness"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/storage/gcs"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/storage/local"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/storage/postgres"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/supervisor"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/syncloop"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run the leaderboard sync loop",
		Long: `Opens the leaderboard page once, then fetches, deduplicates, and persists
the leaderboard until interrupted or until a failure ceiling triggers an
identity reset and shutdown.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}
}

// services holds the external resources opened for one sync run.
type services struct {
	driver    driver.Driver
	shots     driver.Screenshotter
	store     *postgres.EntryStore
	snapshots *local.BlobStore
	captures  *local.BlobStore
	mirror    *gcs.BlobStore
	notifier  *pubsub.Publisher
	logger    *zap.Logger
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ids := uuid.New()
	runID, err := ids.NewID()
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))
	zap.ReplaceGlobals(logger)
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(cmd.Context(), telemetry.ServiceName, runID)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Startup.PurgeTemp {
		supervisor.PurgeTemp(cfg.Startup.TempPatterns, logger)
	}

	svc, err := openServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close()

	if err := svc.driver.Open(ctx, cfg.Target.URL); err != nil {
		return fmt.Errorf("open target: %w", err)
	}

	clock := system.New()
	board := syncloop.NewStatusBoard(runID, clock.Now())
	ceilings := escalation.Ceilings{Errors: cfg.Escalation.ErrorCeiling, Empty: cfg.Escalation.EmptyCeiling}
	policy := escalation.New(
		escalation.Config{Ceilings: ceilings, Container: cfg.Escalation.Container},
		supervisor.NewContainerRestarter(cfg.Escalation.RestartBinary, cfg.Escalation.RestartTimeout(), supervisor.ExecRunner{}, logger),
		supervisor.NewShutdowner(cancel, logger),
		logger,
	)

	deps := syncloop.Deps{
		Driver: svc.driver,
		Extractor: extract.New(extract.Config{
			Sentinel:        cfg.Target.Sentinel,
			LeaderboardType: cfg.Target.LeaderboardType,
			Mode:            extract.Mode(cfg.Target.ExtractMode),
		}),
		Classifier: staleness.NewDetector(sha256.New(), cfg.Escalation.DuplicateCeiling),
		Policy:     policy,
		Snapshots:  svc.snapshots,
		Clock:      clock,
		Tokens:     ids,
		Status:     board,
		Logger:     logger,
	}
	if svc.store != nil {
		deps.Store = svc.store
	}
	if svc.mirror != nil {
		deps.Mirror = svc.mirror
	}
	if svc.notifier != nil {
		deps.Notifier = svc.notifier
	}

	loop, err := syncloop.New(syncloop.Config{
		FetchURL:          cfg.Target.FetchTarget(),
		CacheBustParam:    cfg.Target.CacheBustParam,
		HashScope:         cfg.Sync.HashScope,
		SuccessDelay:      cfg.Sync.SuccessDelay(),
		EmptyDelay:        cfg.Sync.EmptyDelay(),
		ErrorDelay:        cfg.Sync.ErrorDelay(),
		DuplicateDelay:    cfg.Sync.DuplicateDelay(),
		ReloadEveryCycles: cfg.Sync.ReloadEveryCycles,
		SnapshotPath:      cfg.Snapshot.Path,
		MirrorPath:        cfg.GCS.Object,
		MirrorHistory:     cfg.GCS.History,
		NotifyTopic:       cfg.PubSub.TopicName,
		RunID:             runID,
		Ceilings:          ceilings,
	}, deps)
	if err != nil {
		return fmt.Errorf("build sync loop: %w", err)
	}

	var shots *syncloop.ScreenshotTask
	if cfg.Screenshot.Enabled && svc.shots != nil {
		shots = syncloop.NewScreenshotTask(syncloop.ScreenshotConfig{
			Interval: cfg.Screenshot.Interval(),
			Path:     cfg.Screenshot.Path,
		}, svc.shots, svc.captures, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	if shots != nil {
		g.Go(func() error {
			return shots.Run(gctx)
		})
	}
	if cfg.Server.Enabled {
		var pinger api.Pinger
		if svc.store != nil {
			pinger = svc.store
		}
		var screenshots api.ScreenshotSource
		if shots != nil {
			screenshots = shots
		}
		server := api.NewServer(board, screenshots, pinger, api.Options{APIKey: cfg.Server.APIKey}, logger)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, syncloop.ErrEscalated) {
		logger.Error("exiting after escalation", zap.String("reason", policy.Reason()))
		return err
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func openServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (*services, error) {
	svc := &services{logger: logger}
	ok := false
	defer func() {
		if !ok {
			svc.close()
		}
	}()

	pacer := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Driver.MaxFetchQPS, DefaultBurst: cfg.Driver.FetchBurst})
	switch cfg.Driver.Kind {
	case config.DriverColly:
		svc.driver = collydriver.New(collydriver.Config{
			UserAgent: cfg.Driver.UserAgent,
			Timeout:   cfg.Driver.FetchTimeout(),
		}, pacer)
	default:
		d := headless.New(headless.Config{
			RemoteURL:         cfg.Driver.RemoteURL,
			Headless:          cfg.Driver.Headless,
			UserDataDir:       cfg.Driver.UserDataDir,
			UserAgent:         cfg.Driver.UserAgent,
			NavigationTimeout: cfg.Driver.NavTimeout(),
			FetchTimeout:      cfg.Driver.FetchTimeout(),
			ReloadTimeout:     cfg.Driver.ReloadTimeout(),
			ScreenshotQuality: cfg.Driver.ScreenshotQuality,
		}, pacer, logger)
		svc.driver = d
		svc.shots = d
	}

	var err error
	svc.snapshots, err = local.New(local.Config{BaseDir: cfg.Snapshot.Dir})
	if err != nil {
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}
	if cfg.Screenshot.Enabled {
		svc.captures, err = local.New(local.Config{BaseDir: cfg.Screenshot.Dir})
		if err != nil {
			return nil, fmt.Errorf("init screenshot store: %w", err)
		}
	}

	if cfg.DB.DSN != "" {
		svc.store, err = postgres.NewEntryStore(ctx, postgres.EntryStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime(),
		})
		if err != nil {
			return nil, fmt.Errorf("init entry store: %w", err)
		}
		if cfg.DB.EnsureSchema {
			if err := svc.store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
	}

	if cfg.GCS.Bucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		svc.mirror, err = gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix, CacheControl: "no-cache"})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init gcs mirror: %w", err)
		}
	}

	if cfg.PubSub.ProjectID != "" {
		client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		svc.notifier, err = pubsub.New(client, cfg.PubSub.TopicName, map[string]string{"source": "leaderboard-sync"})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
	}

	ok = true
	return svc, nil
}

func (s *services) close() {
	if s.driver != nil {
		if err := s.driver.Close(); err != nil {
			s.logger.Warn("close driver", zap.Error(err))
		}
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			s.logger.Warn("close gcs mirror", zap.Error(err))
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Close(); err != nil {
			s.logger.Warn("close publisher", zap.Error(err))
		}
	}
}
