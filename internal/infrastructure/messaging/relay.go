package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"pustakam-api/pkg/logger"
	"pustakam-api/pkg/metrics"
)

// Relay 以广播方式读取流（不使用消费者组），每个网关实例都能收到全部事件
type Relay struct {
	client       *redis.Client
	stream       Stream
	blockTimeout time.Duration
	startID      string
	handler      MessageHandler
}

// RelayConfig 中继配置
type RelayConfig struct {
	Stream       Stream
	BlockTimeout time.Duration
	// StartID 起始位置，默认 "$" 只读取启动后的新消息
	StartID string
}

// NewRelay 创建事件中继
func NewRelay(client *redis.Client, cfg RelayConfig, handler MessageHandler) *Relay {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.StartID == "" {
		cfg.StartID = "$"
	}
	return &Relay{
		client:       client,
		stream:       cfg.Stream,
		blockTimeout: cfg.BlockTimeout,
		startID:      cfg.StartID,
		handler:      handler,
	}
}

// Run 阻塞读取直到 ctx 取消；处理失败只记录日志，不重投
func (r *Relay) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info("relay started", "stream", r.stream)

	lastID := r.startID
	for {
		if ctx.Err() != nil {
			log.Info("relay stopped")
			return nil
		}

		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{string(r.stream), lastID},
			Count:   100,
			Block:   r.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error("failed to read from stream", "error", err, "stream", r.stream)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, xmsg := range s.Messages {
				lastID = xmsg.ID
				msg := decode(xmsg)
				if msg == nil {
					metrics.RedisStreamProcessed.WithLabelValues(string(r.stream), "invalid").Inc()
					continue
				}
				if err := r.handler(ctx, msg); err != nil {
					log.Warn("relay handler failed", "error", err, "message_id", msg.ID)
					metrics.RedisStreamProcessed.WithLabelValues(string(r.stream), "failed").Inc()
					continue
				}
				metrics.RedisStreamProcessed.WithLabelValues(string(r.stream), "success").Inc()
			}
		}
	}
}
