package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fixly/ticket-service/internal/config"
	"github.com/fixly/ticket-service/internal/database"
	"github.com/fixly/ticket-service/internal/events"
	"github.com/fixly/ticket-service/internal/handler"
	"github.com/fixly/ticket-service/internal/kafka"
	"github.com/fixly/ticket-service/internal/notify"
	"github.com/fixly/ticket-service/internal/realtime"
	"github.com/fixly/ticket-service/internal/repository"
	"github.com/fixly/ticket-service/internal/router"
	"github.com/fixly/ticket-service/internal/scheduler"
	"github.com/fixly/ticket-service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/psds-microservice/helpy/paths"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// API объединяет HTTP-сервер и фоновые воркеры: рассылку событий, очередь
// уведомлений и планировщик просроченных тикетов.
type API struct {
	cfg        *config.Config
	log        *zap.Logger
	db         *gorm.DB
	rdb        *redis.Client
	producer   *kafka.Producer
	dispatcher *events.Dispatcher
	notifier   *notify.Queue
	scheduler  *scheduler.Scheduler
	httpSrv    *http.Server
}

func NewAPI(cfg *config.Config, log *zap.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL(), log); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN(), database.PoolConfig{
		MaxOpenConns: cfg.DB.MaxOpenConns,
		MaxIdleConns: cfg.DB.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rdb := realtime.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	hub := realtime.NewHub(rdb)
	producer := kafka.NewProducer(kafka.ParseBrokers(cfg.Kafka.Brokers), cfg.Kafka.TopicTicket)
	if !producer.Enabled() {
		log.Info("kafka disabled: KAFKA_BROKERS not set")
	}

	sinks := []events.Sink{realtime.NewPublisher(rdb)}
	if producer.Enabled() {
		sinks = append(sinks, producer)
	}
	dispatcher := events.NewDispatcher(log.Named("events"), cfg.EventBuffer, sinks...)

	repo := repository.New(db)
	notifier := notify.NewQueue(repo, dispatcher, log.Named("notify"), cfg.NotificationBuffer)
	clock := clockwork.NewRealClock()
	ticketSvc := service.NewTicketService(repo, dispatcher, notifier, service.Options{
		DefaultPrefix: cfg.TicketPrefix,
		Clock:         clock,
		Logger:        log.Named("tickets"),
	})
	sched, err := scheduler.New(ticketSvc, cfg.OverdueSweepInterval, clock, log.Named("scheduler"))
	if err != nil {
		return nil, err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	health := handler.NewHealthHandler(map[string]handler.Check{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": hub.Ping,
	})
	h := router.New(router.Handlers{
		Health:  health,
		Tickets: handler.NewTicketHandler(ticketSvc),
		Events:  handler.NewEventsHandler(ticketSvc, hub),
	}, cfg.JWTSecret, log.Named("http"))

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:        cfg,
		log:        log,
		db:         db,
		rdb:        rdb,
		producer:   producer,
		dispatcher: dispatcher,
		notifier:   notifier,
		scheduler:  sched,
		httpSrv:    httpSrv,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем останавливает сервер, даёт
// воркерам дочитать очереди и закрывает соединения.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening",
		zap.String("addr", a.httpSrv.Addr),
		zap.String("health", base+paths.PathHealth),
		zap.String("swagger", base+paths.PathSwagger),
		zap.String("api", base+"/api/v1/"),
	)

	// Воркеры живут дольше HTTP-сервера: запросы, завершающиеся во время
	// остановки, ещё могут публиковать события.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workers, _ := errgroup.WithContext(workerCtx)
	workers.Go(func() error { return a.dispatcher.Run(workerCtx) })
	workers.Go(func() error { return a.notifier.Run(workerCtx) })
	workers.Go(func() error { return a.scheduler.Run(workerCtx) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	err := g.Wait()

	stopWorkers()
	if werr := workers.Wait(); werr != nil {
		a.log.Error("worker stopped with error", zap.Error(werr))
	}
	a.close()
	return err
}

func (a *API) close() {
	if err := a.producer.Close(); err != nil {
		a.log.Warn("close kafka producer", zap.Error(err))
	}
	if err := a.rdb.Close(); err != nil {
		a.log.Warn("close redis", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.log.Warn("close database", zap.Error(err))
	}
}
