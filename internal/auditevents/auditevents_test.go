package auditevents

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	h3mapper "github.com/mohammed-shakir/layer-atlas/internal/mapper/h3"
)

func TestPublisher_SendsKeyedJSON(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Errors = true
	prod := mocks.NewAsyncProducer(t, cfg)

	var got Event
	prod.ExpectInputWithCheckerFunctionAndSucceed(func(b []byte) error {
		if err := json.Unmarshal(b, &got); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		return nil
	})

	p := newWithProducer(prod, "analysis-requests", 4, nil)
	p.Publish(Event{
		Route:       "statistics",
		TitilerBase: "https://titiler.example.org",
		CogURL:      "s3://bucket/a.tif",
		Status:      200,
		Footprint:   &h3mapper.Footprint{Res: 7, Count: 3, Center: "872a1072bffffff"},
	})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got.CogURL != "s3://bucket/a.tif" || got.Footprint == nil || got.Footprint.Count != 3 {
		t.Fatalf("got %+v", got)
	}
	if got.TS.IsZero() {
		t.Fatalf("timestamp should be filled in")
	}
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	cfg := sarama.NewConfig()
	prod := mocks.NewAsyncProducer(t, cfg)
	p := &Publisher{topic: "t", events: make(chan Event, 1), prod: prod, stopped: make(chan struct{})}

	p.Publish(Event{CogURL: "a"})
	p.Publish(Event{CogURL: "b"})

	if len(p.events) != 1 {
		t.Fatalf("queue len=%d want 1", len(p.events))
	}
	if ev := <-p.events; ev.CogURL != "a" {
		t.Fatalf("kept %q want first event", ev.CogURL)
	}
	_ = prod.Close()
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	s.Publish(Event{})
}
