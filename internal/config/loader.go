// Package config 提供配置加载功能
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// envPattern 匹配 ${VAR} 或 ${VAR:default}
// g1: 变量名, g2: 默认值部分（含冒号）, g3: 默认值内容
var envPattern = regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)

// Load 从 configs 目录加载配置
// 按优先级加载：默认配置 -> 环境配置 -> 环境变量
func Load() (*Config, error) {
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "configs"
	}
	return LoadFrom(dir)
}

// LoadFrom 从指定目录加载配置，基础文件缺失时仅使用默认值
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 1. 加载默认配置
	if err := loadConfigFile(v, filepath.Join(dir, "config.yaml"), true); err != nil {
		return nil, err
	}

	// 2. 加载环境特定配置
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := loadConfigFile(v, filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env)), true); err != nil {
		return nil, err
	}

	// 3. 绑定环境变量 (直接覆盖)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadConfigFile 读取文件，执行环境变量替换，并合并到 viper
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	reader := strings.NewReader(expandEnv(string(content)))
	if err := v.MergeConfig(reader); err != nil {
		return fmt.Errorf("failed to merge config %s: %w", path, err)
	}
	return nil
}

// expandEnv 替换字符串中的 ${VAR:default} 占位符，未定义且无默认值时保留原样
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(submatch[1]); ok {
			return val
		}
		if submatch[2] != "" {
			return submatch[3]
		}
		return match
	})
}

// MustLoad 加载配置，失败时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 校验互相依赖的配置项
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverMemory, StorageDriverFile, StorageDriverRedis, StorageDriverPostgres:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	switch c.Messaging.Mode {
	case MessagingModeInline, MessagingModeQueue:
	default:
		return fmt.Errorf("unsupported messaging mode %q", c.Messaging.Mode)
	}
	if c.Security.JWT.Enabled && strings.TrimSpace(c.Security.JWT.Secret) == "" {
		return fmt.Errorf("security.jwt.secret is required when jwt is enabled")
	}
	if c.Generation.Retry.MaxRetries <= 0 {
		return fmt.Errorf("generation.retry.max_retries must be positive")
	}
	return nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pustakam-api")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	// HTTP 服务器默认值
	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	// SSE / WebSocket 长连接不设写超时
	v.SetDefault("server.http.write_timeout", "0s")
	v.SetDefault("server.http.idle_timeout", "120s")

	// 数据库默认值
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "pustakam")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 20)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")

	// Redis 默认值
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 50)
	v.SetDefault("cache.redis.min_idle_conns", 5)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")

	// 持久化默认值
	v.SetDefault("storage.driver", StorageDriverFile)
	v.SetDefault("storage.key_prefix", "")
	v.SetDefault("storage.file.dir", "data")
	v.SetDefault("storage.cache.enabled", false)
	v.SetDefault("storage.cache.ttl", "10m")

	// 对象存储默认值
	v.SetDefault("object_store.enabled", false)
	v.SetDefault("object_store.bucket", "pustakam-books")
	v.SetDefault("object_store.presign_ttl", "15m")

	// LLM 默认值（各家均提供 OpenAI 兼容接口）
	v.SetDefault("llm.default_provider", "google")
	v.SetDefault("llm.default_model", "gemini-2.5-flash")
	v.SetDefault("llm.providers.google.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("llm.providers.google.model", "gemini-2.5-flash")
	v.SetDefault("llm.providers.google.timeout", "10m")
	v.SetDefault("llm.providers.mistral.base_url", "https://api.mistral.ai/v1")
	v.SetDefault("llm.providers.mistral.model", "mistral-small-latest")
	v.SetDefault("llm.providers.mistral.timeout", "10m")
	v.SetDefault("llm.providers.zhipu.base_url", "https://open.bigmodel.cn/api/paas/v4/")
	v.SetDefault("llm.providers.zhipu.model", "glm-4.5-flash")
	v.SetDefault("llm.providers.zhipu.timeout", "10m")
	v.SetDefault("llm.providers.groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.providers.groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.providers.groq.timeout", "10m")
	v.SetDefault("llm.rate_limit.enabled", false)
	v.SetDefault("llm.rate_limit.window", "1m")
	v.SetDefault("llm.rate_limit.max_calls", 15)

	// 生成编排默认值
	v.SetDefault("generation.idle_timeout", "90s")
	v.SetDefault("generation.prior_context.enabled", false)
	v.SetDefault("generation.prior_context.max_runes", 1500)
	v.SetDefault("generation.retry.max_retries", 3)
	v.SetDefault("generation.retry.enforce_wait", true)
	v.SetDefault("generation.retry.rate_limited.initial", "30s")
	v.SetDefault("generation.retry.rate_limited.max", "5m")
	v.SetDefault("generation.retry.rate_limited.multiplier", 2.0)
	v.SetDefault("generation.retry.network.initial", "5s")
	v.SetDefault("generation.retry.network.max", "1m")
	v.SetDefault("generation.retry.network.multiplier", 2.0)
	v.SetDefault("generation.retry.provider.initial", "10s")
	v.SetDefault("generation.retry.provider.max", "2m")
	v.SetDefault("generation.retry.provider.multiplier", 2.0)
	v.SetDefault("generation.event_buffer", 256)
	v.SetDefault("generation.run_lock_ttl", "2m")

	// 消息默认值
	v.SetDefault("messaging.mode", MessagingModeInline)
	v.SetDefault("messaging.redis_stream.max_len", 10000)
	v.SetDefault("messaging.redis_stream.consumer_group_prefix", "pustakam")
	v.SetDefault("messaging.redis_stream.block_timeout", "5s")
	v.SetDefault("messaging.redis_stream.retry_limit", 3)
	v.SetDefault("messaging.redis_stream.retry_backoff.initial", "1s")
	v.SetDefault("messaging.redis_stream.retry_backoff.max", "30s")
	v.SetDefault("messaging.redis_stream.retry_backoff.multiplier", 2.0)

	// 可观测性默认值
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")

	// 安全默认值
	v.SetDefault("security.jwt.enabled", false)
	v.SetDefault("security.jwt.issuer", "pustakam")
	v.SetDefault("security.jwt.expiration", "24h")
	v.SetDefault("security.rate_limit.enabled", false)
	v.SetDefault("security.rate_limit.requests_per_minute", 120)
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"})
}
