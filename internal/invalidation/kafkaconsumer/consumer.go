// Package kafkaconsumer applies COG invalidation events from Kafka to the
// info cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/layer-atlas/internal/core/observability"
	"github.com/mohammed-shakir/layer-atlas/internal/invalidation"
	mylog "github.com/mohammed-shakir/layer-atlas/internal/logger"
)

// Evicter drops cached entries for one COG; cache.InfoCache implements it.
type Evicter interface {
	Invalidate(ctx context.Context, cogURL string) (int, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  Evicter
	ver    *versionDedupe
}

func New(cfg Config, logger *slog.Logger, c Evicter) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		cache:  c,
		ver:    newVersionDedupe(cfg.DedupSize),
	}
}

// Start consumes until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache dependency")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := &groupHandler{process: c.ProcessOne}

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.ErrorContext(ctx, "kafka consumer error",
					"err", err, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies one message. Malformed or invalid events are skipped so
// they do not block the partition; only cache failures are returned.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidation("decode_error")
		c.logger.WarnContext(ctx, "invalidation decode failed",
			"err", err, "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidation("invalid")
		c.logger.WarnContext(ctx, "invalidation event rejected",
			"err", err, "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}
	if ev.Seq > 0 && !c.ver.shouldApply(ev.CogURL, ev.Seq) {
		obs.IncInvalidation("duplicate")
		return nil
	}

	n, err := c.cache.Invalidate(ctx, ev.CogURL)
	if err != nil {
		obs.IncInvalidation("cache_error")
		return fmt.Errorf("invalidate %q: %w", ev.CogURL, err)
	}
	obs.IncInvalidation("applied")
	c.logger.DebugContext(ctx, "invalidated cog info",
		"cog_url", ev.CogURL, "op", ev.Op, "keys", n)
	return nil
}
