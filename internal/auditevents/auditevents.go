// Package auditevents publishes one Kafka record per analysis request the
// proxy forwards to TiTiler.
package auditevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/layer-atlas/internal/core/observability"
	h3mapper "github.com/mohammed-shakir/layer-atlas/internal/mapper/h3"
)

type Event struct {
	Route       string              `json:"route"`
	TitilerBase string              `json:"titiler_base"`
	CogURL      string              `json:"cog_url"`
	Status      int                 `json:"status"`
	DurationMS  int64               `json:"duration_ms"`
	Outcome     string              `json:"outcome"`
	RequestID   string              `json:"request_id,omitempty"`
	Footprint   *h3mapper.Footprint `json:"footprint,omitempty"`
	TS          time.Time           `json:"ts"`
}

// Sink is what the proxy handlers publish to.
type Sink interface {
	Publish(ev Event)
}

type Nop struct{}

func (Nop) Publish(Event) {}

type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("auditevents: create async producer: %w", err)
	}
	return newWithProducer(prod, topic, queueSize, logger), nil
}

func newWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncAudit("marshal_error")
				p.logger.Error("auditevents: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(fmt.Sprintf("%016x", xxhash.Sum64String(ev.CogURL))),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncAudit("sent")
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncAudit("producer_error")
				p.logger.Warn("auditevents: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish never blocks the request path; a full queue drops the event.
func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case p.events <- ev:
	default:
		observability.IncAudit("dropped")
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("auditevents: close producer: %w", err)
	}
	return nil
}
