package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scriba/internal/batch"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/handlers"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/queue"
	"github.com/ternarybob/scriba/internal/services/auth"
	"github.com/ternarybob/scriba/internal/services/documents"
	"github.com/ternarybob/scriba/internal/services/events"
	jobsvc "github.com/ternarybob/scriba/internal/services/jobs"
	"github.com/ternarybob/scriba/internal/services/llm"
	"github.com/ternarybob/scriba/internal/services/processing"
	badgerstore "github.com/ternarybob/scriba/internal/storage/badger"
	"github.com/ternarybob/scriba/internal/worker"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager *badgerstore.Manager
	bootCount      int

	EventService *events.Broadcaster
	QueueManager interfaces.QueueManager

	DocumentService interfaces.DocumentService
	JobService      interfaces.JobService
	AuthService     *auth.Service
	LLMProvider     interfaces.LLMProvider

	WorkerPool      *worker.Pool
	Reaper          *worker.Reaper
	BatchController *batch.Controller

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	JobHandler      *handlers.JobHandler
	BatchHandler    *handlers.BatchHandler
	DocumentHandler *handlers.DocumentHandler
	EventsHandler   *handlers.EventsHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	// Recover jobs orphaned by an unclean shutdown, then start processing
	if err := app.Reaper.Start(); err != nil {
		return nil, fmt.Errorf("failed to start reaper: %w", err)
	}
	if err := app.WorkerPool.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	logger.Info().
		Str("llm_provider", cfg.LLM.Provider).
		Int("worker_concurrency", cfg.Worker.Concurrency).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initStorage() error {
	storageManager, err := badgerstore.NewManager(&a.Config.Storage.Badger, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

func (a *App) initServices() error {
	var err error

	a.EventService = events.NewBroadcaster(a.Config.Events.SubscriberBuffer)
	a.recordBoot()

	a.QueueManager, err = queue.NewBadgerManager(
		a.StorageManager.DB().Store().Badger(),
		a.Config.Queue.QueueName,
		common.Duration(a.Config.Queue.VisibilityTimeout),
		a.Config.Queue.MaxReceive,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize queue manager: %w", err)
	}
	a.Logger.Debug().Str("queue_name", a.Config.Queue.QueueName).Msg("Queue manager initialized")

	a.DocumentService = documents.NewService(
		a.StorageManager.DocumentStorage(),
		a.EventService,
		a.Config.Storage.Filesystem.Uploads,
	)

	a.JobService = jobsvc.NewService(
		a.StorageManager.JobStorage(),
		a.QueueManager,
		a.EventService,
	)

	a.AuthService, err = auth.NewService(a.Config.Auth.Secret, common.Duration(a.Config.Auth.TokenExpiry))
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}

	// The classify processor tolerates a nil provider and fails those jobs
	// terminally, so a missing API key never blocks extraction
	a.LLMProvider, err = llm.NewProvider(context.Background(), a.Config)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("LLM provider unavailable, classification jobs will fail")
		a.LLMProvider = nil
	}

	a.WorkerPool = worker.NewPool(
		worker.Config{
			Concurrency:      a.Config.Worker.Concurrency,
			PollInterval:     common.Duration(a.Config.Queue.PollInterval),
			MaxAttempts:      a.Config.Worker.MaxAttempts,
			RetryDelay:       common.Duration(a.Config.Worker.RetryDelay),
			ProgressThrottle: common.Duration(a.Config.Events.ProgressThrottle),
		},
		a.QueueManager,
		a.StorageManager.JobStorage(),
		a.DocumentService,
		a.JobService,
		a.EventService,
		a.LLMProvider != nil,
	)
	a.WorkerPool.RegisterProcessor(processing.NewExtractProcessor(a.DocumentService))
	a.WorkerPool.RegisterProcessor(processing.NewClassifyProcessor(a.LLMProvider))
	a.WorkerPool.RegisterProcessor(processing.NewOrganizeProcessor(a.DocumentService))

	a.Reaper = worker.NewReaper(
		a.StorageManager.JobStorage(),
		a.QueueManager,
		common.Duration(a.Config.Worker.LivenessTimeout),
		a.Config.Worker.ReaperSchedule,
	)

	a.BatchController = batch.NewController(
		batch.Config{PausePollInterval: common.Duration(a.Config.Batch.PausePollInterval)},
		a.StorageManager.BatchStorage(),
		a.DocumentService,
		a.JobService,
		a.EventService,
		a.WorkerPool,
	)

	return nil
}

// recordBoot persists the boot counter and the broadcaster instance ID so
// operators can correlate client restart-detection events with the server's
// instance history. Best effort; a write failure only loses the bookkeeping.
func (a *App) recordBoot() {
	ctx := context.Background()
	kv := a.StorageManager.KeyValueStorage()

	a.bootCount = 1
	if raw, err := kv.Get(ctx, "server:boot_count"); err == nil {
		if prev, convErr := strconv.Atoi(raw); convErr == nil {
			a.bootCount = prev + 1
		}
	}
	if err := kv.Set(ctx, "server:boot_count", strconv.Itoa(a.bootCount)); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to persist boot count")
	}

	if prevID, err := kv.Get(ctx, "server:instance_id"); err == nil {
		a.Logger.Info().
			Str("previous_instance_id", prevID).
			Str("instance_id", a.EventService.InstanceID()).
			Int("boot_count", a.bootCount).
			Msg("Server instance restarted")
	}
	if err := kv.Set(ctx, "server:instance_id", a.EventService.InstanceID()); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to persist instance id")
	}
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.EventService.InstanceID(), a.bootCount)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.AuthService)
	a.BatchHandler = handlers.NewBatchHandler(a.BatchController, a.AuthService)
	a.DocumentHandler = handlers.NewDocumentHandler(a.DocumentService, a.AuthService)
	a.EventsHandler = handlers.NewEventsHandler(a.EventService, a.AuthService, &a.Config.Events)
}

// Close shuts down processing and releases all resources. Order matters:
// the batch controller and pool stop producing before the queue and
// broadcaster close, storage last.
func (a *App) Close() error {
	if a.BatchController != nil {
		a.BatchController.Shutdown()
	}

	if a.WorkerPool != nil {
		a.WorkerPool.Stop()
		a.Logger.Info().Msg("Worker pool stopped")
	}

	if a.Reaper != nil {
		a.Reaper.Stop()
	}

	if a.LLMProvider != nil {
		if err := a.LLMProvider.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM provider")
		}
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue manager")
		}
	}

	if a.EventService != nil {
		a.EventService.Close()
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
