package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/layer-atlas/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	DedupSize           int
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

func FromConfig(c config.Config) Config {
	return Config{
		Brokers:             c.Kafka.BrokerList(),
		Topic:               c.Invalidation.Topic,
		GroupID:             c.Kafka.GroupID,
		DedupSize:           c.Invalidation.DedupSize,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: false,
	}
}
