package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var receivedMsg atomic.Pointer[domain.Message]

		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			receivedMsg.Store(msg)
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, "test.topic", []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitFor(t, &wg, time.Second)

		msg := receivedMsg.Load()
		if string(msg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
		}
		if msg.Topic != "test.topic" {
			t.Errorf("expected topic 'test.topic', got '%s'", msg.Topic)
		}
		if msg.ID == "" {
			t.Error("expected message ID")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var decisions, alerts atomic.Int32

		var wg sync.WaitGroup
		wg.Add(1)

		bus.Subscribe(ctx, "iso.decision", func(ctx context.Context, msg *domain.Message) error {
			decisions.Add(1)
			wg.Done()
			return nil
		})
		bus.Subscribe(ctx, "iso.alert", func(ctx context.Context, msg *domain.Message) error {
			alerts.Add(1)
			return nil
		})

		bus.Publish(ctx, "iso.decision", []byte("d"))
		waitFor(t, &wg, time.Second)
		time.Sleep(20 * time.Millisecond)

		if decisions.Load() != 1 {
			t.Errorf("expected 1 decision, got %d", decisions.Load())
		}
		if alerts.Load() != 0 {
			t.Errorf("expected 0 alerts, got %d", alerts.Load())
		}
	})

	t.Run("FanOut", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)

		for i := 0; i < 2; i++ {
			bus.Subscribe(ctx, "fan.topic", func(ctx context.Context, msg *domain.Message) error {
				wg.Done()
				return nil
			})
		}

		bus.Publish(ctx, "fan.topic", []byte("x"))
		waitFor(t, &wg, time.Second)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		sub, err := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		if sub.Topic() != "unsub.topic" {
			t.Errorf("expected topic 'unsub.topic', got '%s'", sub.Topic())
		}
		if bus.SubscriberCount("unsub.topic") != 1 {
			t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount("unsub.topic"))
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		if bus.SubscriberCount("unsub.topic") != 0 {
			t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount("unsub.topic"))
		}
		if err := bus.Publish(ctx, "unsub.topic", []byte("x")); err != nil {
			t.Errorf("publish after unsubscribe failed: %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	// Operations should fail after close
	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if _, err := bus.Subscribe(ctx, "close.topic", nil); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestChannelBusPublishDuringClose(t *testing.T) {
	bus := NewChannelBus(1)
	ctx := context.Background()

	bus.Subscribe(ctx, "race.topic", func(ctx context.Context, msg *domain.Message) error {
		time.Sleep(time.Millisecond)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = bus.Publish(ctx, "race.topic", []byte("x"))
			}
		}()
	}
	bus.Close()
	wg.Wait()
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 50,
		}

		bus, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})

	t.Run("NATSUnreachable", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "nats", NATSUrl: "nats://127.0.0.1:1"})
		if err == nil {
			t.Error("expected error when NATS is unreachable")
		}
	})
}

func TestQueueGroupFor(t *testing.T) {
	cases := []struct {
		topic string
		group string
		want  string
	}{
		{domain.TopicScoreRequested, "", DefaultQueueGroup},
		{domain.TopicScoreRequested, "scorers-eu", "scorers-eu"},
		{domain.TopicDecision, "scorers-eu", ""},
		{domain.TopicAlert, "", ""},
	}
	for _, tc := range cases {
		if got := queueGroupFor(tc.topic, tc.group); got != tc.want {
			t.Errorf("queueGroupFor(%q, %q) = %q, want %q", tc.topic, tc.group, got, tc.want)
		}
	}
}

func TestPublishJSON(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)

	var got atomic.Value
	bus.Subscribe(ctx, domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
		var v map[string]string
		if err := json.Unmarshal(msg.Payload, &v); err != nil {
			return err
		}
		got.Store(v["decision"])
		wg.Done()
		return nil
	})

	if err := PublishJSON(ctx, bus, domain.TopicDecision, map[string]string{"decision": "NORMAL"}); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}
	waitFor(t, &wg, time.Second)

	if got.Load() != "NORMAL" {
		t.Errorf("expected decision NORMAL, got %v", got.Load())
	}

	if err := PublishJSON(ctx, bus, domain.TopicDecision, make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}
