package wire

import (
	"context"
	"fmt"
	"os"

	"github.com/google/wire"

	"pustakam-api/internal/application/book"
	"pustakam-api/internal/application/book/generator"
	"pustakam-api/internal/application/book/orchestrator"
	"pustakam-api/internal/application/book/planner"
	"pustakam-api/internal/application/settings"
	"pustakam-api/internal/config"
	"pustakam-api/internal/domain/repository"
	"pustakam-api/internal/infrastructure/llm"
	"pustakam-api/internal/infrastructure/messaging"
	"pustakam-api/internal/infrastructure/persistence/filestore"
	"pustakam-api/internal/infrastructure/persistence/kvrepo"
	"pustakam-api/internal/infrastructure/persistence/memory"
	"pustakam-api/internal/infrastructure/persistence/postgres"
	"pustakam-api/internal/infrastructure/persistence/redis"
	"pustakam-api/internal/infrastructure/storage"
	"pustakam-api/internal/interfaces/http/handler"
	"pustakam-api/internal/interfaces/http/middleware"
	"pustakam-api/internal/interfaces/http/router"
	"pustakam-api/internal/interfaces/worker"
	workflowport "pustakam-api/internal/workflow/port"
	"pustakam-api/pkg/logger"
)

// App API 网关依赖容器
type App struct {
	Router       *router.Router
	Orchestrator *orchestrator.Orchestrator
	// Relay 仅在 queue 模式下非空
	Relay *messaging.Relay
}

// Worker book-worker 依赖容器
type Worker struct {
	Consumer     *messaging.Consumer
	Commands     *worker.CommandHandler
	Orchestrator *orchestrator.Orchestrator
}

// PostgresOnlyDataLayer 仅包含 PostgreSQL 的数据层（用于 bootstrap）
type PostgresOnlyDataLayer struct {
	PgClient *postgres.Client
}

// DataSet 连接与仓储，Redis 客户端由各入口自行提供
var DataSet = wire.NewSet(
	ProvidePostgresClient,
	ProvideKVStore,
	kvrepo.NewBookRepository,
	kvrepo.NewSettingsRepository,
	wire.Bind(new(repository.BookRepository), new(*kvrepo.BookRepository)),
	wire.Bind(new(repository.SettingsRepository), new(*kvrepo.SettingsRepository)),
)

// LLMSet 模型接入
var LLMSet = wire.NewSet(
	llm.NewSettingsCredentials,
	wire.Bind(new(llm.CredentialSource), new(*llm.SettingsCredentials)),
	llm.NewEinoFactory,
	ProvideCallLimiter,
	ProvideClientFactory,
	wire.Bind(new(workflowport.ModelClientFactory), new(*llm.ClientFactory)),
)

// GenerationSet 编排与书籍服务
var GenerationSet = wire.NewSet(
	ProvideGenerator,
	ProvideRunLock,
	ProvideOrchestrator,
	ProvideProducer,
	ProvideMinioStore,
	ProvideExporter,
	planner.New,
	wire.Bind(new(settings.ModelCache), new(*llm.EinoFactory)),
	settings.NewService,
	wire.Bind(new(book.SettingsProvider), new(*settings.Service)),
	book.NewService,
)

// RouterSet HTTP 层
var RouterSet = wire.NewSet(
	handler.NewBookHandler,
	handler.NewGenerationHandler,
	handler.NewSettingsHandler,
	ProvideStreamHandler,
	ProvideHealthHandler,
	ProvideHTTPRateLimiter,
	wire.Struct(new(router.Handlers), "*"),
	router.New,
)

// ProvideRedisClient 提供 Redis 客户端；没有组件需要 Redis 时返回 nil
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !needsRedis(cfg) {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRequiredRedisClient book-worker 依赖 Redis Stream，总是连接
func ProvideRequiredRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Storage.Driver == config.StorageDriverRedis ||
		cfg.Storage.Cache.Enabled ||
		cfg.Messaging.Mode == config.MessagingModeQueue ||
		cfg.LLM.RateLimit.Enabled ||
		cfg.Security.RateLimit.Enabled
}

// ProvidePostgresClient 提供 PostgreSQL 客户端；非 postgres 驱动时返回 nil
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	if cfg.Storage.Driver != config.StorageDriverPostgres {
		return nil, func() {}, nil
	}
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideBootstrapPostgresClient bootstrap 总是连接 PostgreSQL
func ProvideBootstrapPostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideKVStore 按驱动选择持久化后端，可选地在前面加 Redis 读缓存
func ProvideKVStore(ctx context.Context, cfg *config.Config, pg *postgres.Client, rc *redis.Client) (repository.KVStore, error) {
	var store repository.KVStore
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		store = memory.New()
	case config.StorageDriverFile:
		fs, err := filestore.New(cfg.Storage.File.Dir)
		if err != nil {
			return nil, err
		}
		store = fs
	case config.StorageDriverRedis:
		return redis.NewKVStore(rc, cfg.Storage.KeyPrefix), nil
	case config.StorageDriverPostgres:
		if err := postgres.AutoMigrate(ctx, pg.DB()); err != nil {
			return nil, err
		}
		store = postgres.NewKVStore(pg)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Storage.Cache.Enabled && cfg.Storage.Driver != config.StorageDriverMemory {
		cache := redis.NewCache(rc, cfg.Storage.KeyPrefix+"cache:")
		logger.Info(ctx, "storage read cache enabled", "driver", cfg.Storage.Driver, "ttl", cfg.Storage.Cache.TTL)
		return redis.NewCachedStore(store, cache, cfg.Storage.Cache.TTL), nil
	}
	return store, nil
}

// ProvideCallLimiter 提供商调用限流；未启用时返回 nil
func ProvideCallLimiter(cfg *config.Config, rc *redis.Client) llm.CallLimiter {
	if !cfg.LLM.RateLimit.Enabled || rc == nil {
		return nil
	}
	return redis.NewCallLimiter(redis.NewRateLimiter(rc), cfg.LLM.RateLimit.MaxCalls, cfg.LLM.RateLimit.Window)
}

// ProvideClientFactory 提供 ModelClient 工厂
func ProvideClientFactory(cfg *config.Config, chats *llm.EinoFactory, limiter llm.CallLimiter) *llm.ClientFactory {
	return llm.NewClientFactory(chats, limiter, cfg.LLM.RateLimit.Window)
}

// ProvideGenerator 提供模块生成器
func ProvideGenerator(cfg *config.Config) *generator.Generator {
	return generator.New(generator.Config{
		IdleTimeout:       cfg.Generation.IdleTimeout,
		PriorContext:      cfg.Generation.PriorContext.Enabled,
		PriorContextRunes: cfg.Generation.PriorContext.MaxRunes,
	})
}

// ProvideRunLock redis 驱动或 queue 模式下启用跨进程运行锁
func ProvideRunLock(cfg *config.Config, rc *redis.Client) orchestrator.RunLock {
	if rc == nil {
		return nil
	}
	if cfg.Storage.Driver != config.StorageDriverRedis && cfg.Messaging.Mode != config.MessagingModeQueue {
		return nil
	}
	return redis.NewRunLock(rc, cfg.Storage.KeyPrefix)
}

// ProvideOrchestrator 提供编排器
func ProvideOrchestrator(
	cfg *config.Config,
	repo repository.BookRepository,
	clients workflowport.ModelClientFactory,
	gen *generator.Generator,
	hub *orchestrator.Hub,
	lock orchestrator.RunLock,
) *orchestrator.Orchestrator {
	return orchestrator.New(repo, clients, gen, hub, orchestrator.Options{
		Policy:  orchestrator.NewRetryPolicy(cfg.Generation.Retry),
		Lock:    lock,
		LockTTL: cfg.Generation.RunLockTTL,
	})
}

// ProvideGatewayHub 网关事件中心，只在进程内分发
func ProvideGatewayHub(cfg *config.Config) *orchestrator.Hub {
	return orchestrator.NewHub(cfg.Generation.EventBuffer, nil)
}

// ProvideWorkerHub worker 事件中心，事件同时写入 Redis Stream 供网关中继
func ProvideWorkerHub(cfg *config.Config, producer *messaging.Producer) *orchestrator.Hub {
	return orchestrator.NewHub(cfg.Generation.EventBuffer, book.NewStreamSink(producer))
}

// ProvideProducer 提供消息生产者；没有 Redis 时返回 nil
func ProvideProducer(cfg *config.Config, rc *redis.Client) *messaging.Producer {
	if rc == nil {
		return nil
	}
	maxLen := cfg.Messaging.RedisStream.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return messaging.NewProducer(rc.Redis(), int64(maxLen))
}

// ProvideGatewayRunner inline 模式由本进程编排，queue 模式把命令交给 book-worker
func ProvideGatewayRunner(cfg *config.Config, orch *orchestrator.Orchestrator, producer *messaging.Producer, hub *orchestrator.Hub) (book.Runner, error) {
	if cfg.Messaging.Mode != config.MessagingModeQueue {
		return orch, nil
	}
	if producer == nil {
		return nil, fmt.Errorf("queue mode requires redis")
	}
	return book.NewQueuedRunner(producer, hub), nil
}

// ProvideWorkerRunner worker 总是在本进程编排
func ProvideWorkerRunner(orch *orchestrator.Orchestrator) book.Runner {
	return orch
}

// ProvideMinioStore 提供对象存储；未启用时返回 nil
func ProvideMinioStore(ctx context.Context, cfg *config.Config) (*storage.MinioStore, error) {
	if !cfg.ObjectStore.Enabled {
		return nil, nil
	}
	return storage.NewMinioStore(ctx, &cfg.ObjectStore)
}

// ProvideExporter 提供成书导出
func ProvideExporter(cfg *config.Config, store *storage.MinioStore) *book.Exporter {
	if store == nil {
		return book.NewExporter(nil, 0)
	}
	return book.NewExporter(store, cfg.ObjectStore.PresignTTL)
}

// ProvideStreamHandler 提供事件流处理器
func ProvideStreamHandler(cfg *config.Config, books *book.Service, hub *orchestrator.Hub) *handler.StreamHandler {
	return handler.NewStreamHandler(books, hub, cfg.Security.CORS.AllowedOrigins)
}

// ProvideHealthHandler 就绪检查覆盖实际启用的依赖
func ProvideHealthHandler(cfg *config.Config, pg *postgres.Client, rc *redis.Client, objects *storage.MinioStore) *handler.HealthHandler {
	var deps []handler.Dependency
	if pg != nil {
		deps = append(deps, handler.Dependency{Name: "postgres", Checker: pg, Required: true})
	}
	if rc != nil {
		required := cfg.Storage.Driver == config.StorageDriverRedis || cfg.Messaging.Mode == config.MessagingModeQueue
		deps = append(deps, handler.Dependency{Name: "redis", Checker: rc, Required: required})
	}
	if objects != nil {
		deps = append(deps, handler.Dependency{Name: "object_store", Checker: objects})
	}
	return handler.NewHealthHandler(cfg.App.Version, deps...)
}

// ProvideHTTPRateLimiter HTTP 限流器；没有 Redis 时返回 nil
func ProvideHTTPRateLimiter(rc *redis.Client) middleware.RateLimiter {
	if rc == nil {
		return nil
	}
	return redis.NewRateLimiter(rc)
}

// ProvideRelay queue 模式下把 worker 事件中继到本地事件中心
func ProvideRelay(cfg *config.Config, rc *redis.Client, hub *orchestrator.Hub) *messaging.Relay {
	if cfg.Messaging.Mode != config.MessagingModeQueue || rc == nil {
		return nil
	}
	return messaging.NewRelay(rc.Redis(), messaging.RelayConfig{
		Stream:       messaging.StreamBookEvents,
		BlockTimeout: cfg.Messaging.RedisStream.BlockTimeout,
	}, book.RelayHandler(hub))
}

// ProvideConsumer 提供命令消费者
func ProvideConsumer(cfg *config.Config, rc *redis.Client) (*messaging.Consumer, error) {
	if rc == nil {
		return nil, fmt.Errorf("book-worker requires redis")
	}
	rs := cfg.Messaging.RedisStream
	return messaging.NewConsumer(rc.Redis(), messaging.ConsumerConfig{
		Stream:       messaging.StreamBookCommands,
		Group:        messaging.ConsumerGroupBookWorkers.WithPrefix(rs.ConsumerGroupPrefix),
		ConsumerName: consumerName(),
		BlockTimeout: rs.BlockTimeout,
		RetryLimit:   rs.RetryLimit,
		Backoff:      messaging.BackoffFromConfig(rs.RetryBackoff),
	}), nil
}

// ProvideCommandHandler 创建命令处理器并注册到消费者
func ProvideCommandHandler(consumer *messaging.Consumer, books *book.Service) *worker.CommandHandler {
	h := worker.NewCommandHandler(books)
	h.Register(consumer)
	return h
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
