// CowSolver 主程序
// 功能：接收签名意图，按交易对批量轧差，剩余不平衡量路由到外部场所
// 架构：DDD + gin HTTP + Kafka 意图入口 + gRPC 健康检查
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/cowsolver/internal/solver/application"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/internal/solver/infrastructure/ledger"
	"github.com/wyfcoding/cowsolver/internal/solver/infrastructure/messaging"
	"github.com/wyfcoding/cowsolver/internal/solver/infrastructure/permit"
	"github.com/wyfcoding/cowsolver/internal/solver/infrastructure/persistence/memory"
	solver_mysql "github.com/wyfcoding/cowsolver/internal/solver/infrastructure/persistence/mysql"
	solver_redis "github.com/wyfcoding/cowsolver/internal/solver/infrastructure/persistence/redis"
	"github.com/wyfcoding/cowsolver/internal/solver/infrastructure/router"
	"github.com/wyfcoding/cowsolver/internal/solver/interfaces/consumer"
	solver_http "github.com/wyfcoding/cowsolver/internal/solver/interfaces/http"
	"github.com/wyfcoding/cowsolver/pkg/cache"
	"github.com/wyfcoding/cowsolver/pkg/config"
	"github.com/wyfcoding/cowsolver/pkg/db"
	"github.com/wyfcoding/cowsolver/pkg/idgen"
	"github.com/wyfcoding/cowsolver/pkg/logger"
	"github.com/wyfcoding/cowsolver/pkg/metrics"
	"github.com/wyfcoding/cowsolver/pkg/middleware"
	"github.com/wyfcoding/cowsolver/pkg/mq"
	"github.com/wyfcoding/cowsolver/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// stateStore 状态仓储同时提供按版本补拉
type stateStore interface {
	domain.StateRepository
	application.RecordReader
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/solver/config.toml", "path to config file")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "solver exited: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. 初始化日志
	if err := logger.Init(logger.Config{
		Service:    cfg.ServiceName,
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.InfoContext(ctx, "starting solver", "version", cfg.Version, "environment", cfg.Environment)

	sc := &cfg.Solver
	operator := common.HexToAddress(sc.Operator)
	custody := common.HexToAddress(sc.Custody)

	// 3. 账本与状态仓储
	names := make(map[common.Address]string, len(sc.Assets))
	for _, a := range sc.Assets {
		names[common.HexToAddress(a.Address)] = a.Name
	}
	verifier := permit.NewVerifier(sc.ChainID, names)

	var (
		tokenLedger domain.TokenLedger
		repo        stateStore
	)
	switch cfg.Database.Driver {
	case "mysql":
		database, err := db.Init(ctx, db.Config{
			Driver:             cfg.Database.Driver,
			DSN:                cfg.Database.DSN,
			MaxOpenConns:       cfg.Database.MaxOpenConns,
			MaxIdleConns:       cfg.Database.MaxIdleConns,
			ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
			LogEnabled:         cfg.Database.LogEnabled,
			SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		}, log)
		if err != nil {
			return err
		}
		defer database.Close()

		mysqlLedger := ledger.NewMySQLLedger(database, verifier, nil)
		mysqlRepo := solver_mysql.NewStateRepository(database)
		if cfg.Database.AutoMigrate {
			if err := mysqlLedger.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate ledger: %w", err)
			}
			if err := mysqlRepo.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate state: %w", err)
			}
		}
		if len(sc.Genesis) > 0 {
			// MySQL 账本的余额跨重启保留，重复铸造会虚增供给
			log.WarnContext(ctx, "genesis balances are ignored for the mysql ledger", "entries", len(sc.Genesis))
		}
		tokenLedger, repo = mysqlLedger, mysqlRepo
	default:
		memLedger := ledger.NewMemoryLedger(verifier, nil)
		for _, g := range sc.Genesis {
			amount, err := decimal.NewFromString(g.Amount)
			if err != nil {
				return fmt.Errorf("genesis %s/%s: %w", g.Asset, g.Owner, err)
			}
			memLedger.Mint(common.HexToAddress(g.Asset), common.HexToAddress(g.Owner), amount)
		}
		tokenLedger, repo = memLedger, memory.NewStateRepository()
	}

	store, err := domain.NewStore(ctx, repo)
	if err != nil {
		return fmt.Errorf("load settlement state: %w", err)
	}

	// 4. 交易场所
	venues, err := buildVenues(sc.Venues, log)
	if err != nil {
		return err
	}

	// 5. 领域引擎与队列
	engine, err := domain.NewNettingEngine(domain.EngineConfig{
		Ledger:  tokenLedger,
		Venues:  venues,
		Store:   store,
		Fee:     domain.FeePolicy{Numerator: sc.FeeNumerator, Denominator: sc.FeeDenominator},
		Custody: custody,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("init netting engine: %w", err)
	}

	ids, err := idgen.New(sc.NodeID)
	if err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}
	queue := domain.NewIntentQueue(engine, domain.WithSlotHandles(ids.NextWithPrefix("slot"), ids.NextWithPrefix("slot")))

	// 6. 指标
	m := metrics.New(cfg.ServiceName)

	// 7. Redis：分布式结算锁与提交限流
	var (
		lock    application.TriggerLock
		limiter ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter()
	)
	if cfg.Redis.Enabled {
		rc, err := cache.New(ctx, cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, log)
		if err != nil {
			return err
		}
		defer rc.Close()
		lock = solver_redis.NewTriggerLock(rc, sc.TriggerLockTTL, log)
		limiter = ratelimit.NewRedisRateLimiter(rc.Client())
	}

	// 8. Kafka：记录投递与意图入口
	kafkaCfg := mq.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
	var (
		publisher application.RecordPublisher = application.NoopPublisher{}
		producer  *mq.KafkaProducer
	)
	if cfg.Kafka.Enabled {
		producer = mq.NewProducer(kafkaCfg, log)
		defer producer.Close()
		publisher = messaging.NewKafkaRecordPublisher(producer, cfg.Kafka.RecordsTopic)
	}

	// 9. 应用服务
	svc, err := application.NewSolverService(application.ServiceConfig{
		Queue:         queue,
		Engine:        engine,
		Store:         store,
		Operator:      operator,
		IDs:           ids,
		Publisher:     publisher,
		Records:       repo,
		Lock:          lock,
		Metrics:       m,
		SettleTimeout: sc.SettleTimeout,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("init solver service: %w", err)
	}

	// 10. 接口层
	var opts []solver_http.Option
	if sc.OperatorToken != "" {
		opts = append(opts, solver_http.WithOperatorToken(sc.OperatorToken))
	}
	if sc.SubmitLimit.Enabled {
		opts = append(opts, solver_http.WithSubmitLimit(limiter, ratelimit.PerSecond(sc.SubmitLimit.QPS, sc.SubmitLimit.Burst)))
	}
	httpServer := createHTTPServer(cfg, solver_http.NewSolverHandler(svc, log, opts...), m, log)
	grpcServer, healthServer := createGRPCServer(log)

	// 11. 启动
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.InfoContext(gctx, "starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		log.InfoContext(gctx, "starting gRPC server", "addr", addr)
		return grpcServer.Serve(lis)
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return m.Serve(gctx, cfg.Metrics.Port, cfg.Metrics.Path, log)
		})
	}

	if sc.KeeperInterval > 0 {
		keeper := application.NewKeeperJob(svc, sc.KeeperInterval, log)
		g.Go(func() error {
			keeper.Start(gctx)
			return nil
		})
	}

	if cfg.Kafka.Enabled {
		dlq := mq.NewDeadLetterQueue(producer, cfg.Kafka.DeadLetter)
		intents := mq.NewConsumer(kafkaCfg, cfg.Kafka.IntentsTopic, dlq, log)
		handler := consumer.NewIntentHandler(svc, log)
		g.Go(func() error {
			defer intents.Close()
			return intents.Run(gctx, handler.Handle)
		})
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// 12. 优雅关停
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down solver")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("solver stopped", "pending", queue.Pending(), "version", store.Version())
	return nil
}

// buildVenues 按配置创建交易场所，rate 场所以自身地址作为流动性账户
func buildVenues(cfgs []config.VenueConfig, log *slog.Logger) (domain.Venues, error) {
	venues := make(domain.Venues, len(cfgs))
	for _, v := range cfgs {
		addr := common.HexToAddress(v.Address)
		switch v.Kind {
		case "rate":
			rate, err := decimal.NewFromString(v.Rate)
			if err != nil {
				return nil, fmt.Errorf("venue %s rate: %w", v.Address, err)
			}
			venues[addr] = router.NewRateRouter(addr, rate)
		case "http":
			venues[addr] = router.NewHTTPRouter(router.HTTPRouterConfig{
				Name:     addr.Hex(),
				Endpoint: v.Endpoint,
				Timeout:  v.Timeout,
				Retries:  v.Retries,
			}, log)
		}
		log.Info("venue registered", "venue", addr.Hex(), "kind", v.Kind)
	}
	return venues, nil
}

// createHTTPServer 创建 HTTP 服务器
func createHTTPServer(cfg *config.Config, h *solver_http.SolverHandler, m *metrics.Metrics, log *slog.Logger) *http.Server {
	if cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.GinRecovery(log), middleware.GinLogging(log), middleware.GinMetrics(m))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   cfg.ServiceName,
			"timestamp": time.Now().Unix(),
		})
	})
	h.RegisterRoutes(r)

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}

// createGRPCServer 只暴露标准健康检查与反射
func createGRPCServer(log *slog.Logger) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.GRPCRecoveryInterceptor(log),
			middleware.GRPCLoggingInterceptor(log),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)
	return server, hs
}
