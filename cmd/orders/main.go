package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Skotchmaster/restaurant/internal/config"
	"github.com/Skotchmaster/restaurant/internal/httpserver"
	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/realtime"
	"github.com/Skotchmaster/restaurant/internal/repo"
	"github.com/Skotchmaster/restaurant/internal/search"
	"github.com/Skotchmaster/restaurant/internal/service"
	"github.com/Skotchmaster/restaurant/internal/worker"
	"github.com/Skotchmaster/restaurant/pkg/authclient"
	"github.com/Skotchmaster/restaurant/pkg/db"
	"github.com/Skotchmaster/restaurant/pkg/logging"
	authmw "github.com/Skotchmaster/restaurant/pkg/middleware/auth"
	"github.com/Skotchmaster/restaurant/pkg/middleware/csrf"
	loggingmw "github.com/Skotchmaster/restaurant/pkg/middleware/logging"
	"github.com/Skotchmaster/restaurant/pkg/tokens"
)

// relay is a cross-instance event transport feeding the local hub.
type relay interface {
	realtime.Publisher
	Run(ctx context.Context) error
	Close() error
}

func main() {
	cfg := config.Load()
	lg := logging.New(cfg.LogLevel).With("service", "orders")
	slog.SetDefault(lg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	defer db.Close(gdb)
	if err := db.Migrate(gdb, models.All()...); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}

	hub := realtime.NewHub(realtime.Router{StaffRoles: cfg.StaffRoles}, realtime.WithLogger(lg))
	defer hub.Close()

	r := repo.New(gdb)

	var publisher realtime.Publisher = hub
	rl, err := newRelay(cfg, gdb, hub, r.GetOrder, lg)
	if err != nil {
		log.Fatalf("event relay error: %v", err)
	}
	if rl != nil {
		publisher = rl
		defer rl.Close()
		go func() {
			if err := rl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("relay_stopped", "error", err)
			}
		}()
	}

	timeouts := service.Timeouts{DB: cfg.DBTimeout, Publish: cfg.PublishTimeout}
	ledger := &service.Ledger{Repo: r, Publisher: publisher, Timeouts: timeouts}
	engine := &service.Engine{Repo: r, Ledger: ledger, Publisher: publisher, Timeouts: timeouts}
	tracker := &service.ItemTracker{Engine: engine}

	searchHandler := &httpserver.SearchHTTP{}
	if cfg.ESURL != "" {
		idx, err := startIndexer(ctx, cfg, r, hub, lg)
		if err != nil {
			log.Fatalf("search init error: %v", err)
		}
		searchHandler.Index = idx
	}

	sweeper := &worker.Sweeper{
		Orders: engine,
		TTL:    cfg.UnpaidOrderTTL,
		Batch:  cfg.SweepBatch,
		Log:    lg,
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		sweeper.Lock = worker.NewRedisLock(rdb, "orders:unpaid_sweep", 5*time.Minute, lg)
	}
	scheduler, err := sweeper.Schedule(cfg.SweepSchedule)
	if err != nil {
		log.Fatalf("sweeper error: %v", err)
	}
	scheduler.Start()

	var authClient *authclient.Client
	if cfg.AuthHTTPURL != "" {
		if authClient, err = authclient.NewClient(cfg.AuthHTTPURL); err != nil {
			log.Fatalf("auth client error: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(loggingmw.RequestLogger(lg))
	e.Use(csrf.Middleware(csrf.Config{Guard: csrf.WithCookie(tokens.AccessCookie)}))

	orders := &httpserver.OrderHTTP{Engine: engine, Tracker: tracker, StaffRoles: cfg.StaffRoles}
	httpserver.Register(e, &httpserver.Deps{
		OrderHandler:     orders,
		PromotionHandler: &httpserver.PromotionHTTP{Ledger: ledger},
		SearchHandler:    searchHandler,
		RealtimeHandler:  &httpserver.RealtimeHTTP{WS: &realtime.WSServer{Hub: hub, Log: lg}, Orders: orders},
		Auth:             authmw.NewAuthMiddleware(cfg.JWTAccessSecret, authClient),
		Ready: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", cfg.ServerPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("echo start: %v", err)
		}
	}()

	<-ctx.Done()
	lg.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	<-scheduler.Stop().Done()
	hub.Close()
	if err := e.Shutdown(shutdownCtx); err != nil {
		lg.Error("echo_shutdown_failed", "error", err)
	}
}

// newRelay picks Kafka when brokers are configured, Postgres NOTIFY when the
// database is Postgres, and nothing (in-process delivery) otherwise.
func newRelay(cfg config.ServiceConfig, gdb *gorm.DB, hub *realtime.Hub, load realtime.OrderLoader, lg *slog.Logger) (relay, error) {
	switch {
	case len(cfg.KafkaBrokers) > 0:
		group := cfg.KafkaGroupID
		if group == "" {
			// every instance must see every event
			group = "orders-" + uuid.NewString()
		}
		return realtime.NewKafkaRelay(realtime.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: group,
		}, hub, lg)
	case db.IsPostgres(cfg.DatabaseURL):
		return realtime.NewPGRelay(cfg.DatabaseURL, cfg.NotifyChannel, gdb, hub, load, lg)
	}
	lg.Info("relay_disabled", "reason", "single instance delivery")
	return nil, nil
}

func startIndexer(ctx context.Context, cfg config.ServiceConfig, r *repo.GormRepo, hub *realtime.Hub, lg *slog.Logger) (*search.Index, error) {
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := search.NewClient(initCtx, search.Config{
		URL:      cfg.ESURL,
		User:     cfg.ESUser,
		Password: cfg.ESPassword,
		Index:    cfg.ESIndex,
	}, lg)
	if err != nil {
		return nil, err
	}
	idx := &search.Index{ES: client, Name: cfg.ESIndex}
	if err := idx.Ensure(initCtx); err != nil {
		return nil, err
	}

	indexer := &search.Indexer{
		Hub:   hub,
		Group: realtime.RoleGroup(service.RoleAdmin),
		Load: func(ctx context.Context, id uuid.UUID) (*models.OrderHeader, error) {
			o, err := r.GetOrder(ctx, id)
			if repo.IsNotFound(err) {
				return nil, search.ErrMissing
			}
			return o, err
		},
		Snapshot: func(ctx context.Context) ([]models.OrderHeader, error) {
			return r.ListOrders(ctx, repo.OrderFilter{Limit: 1000})
		},
		Store: idx,
		Log:   lg,
	}
	go func() {
		if err := indexer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("indexer_stopped", "error", err)
		}
	}()
	return idx, nil
}
