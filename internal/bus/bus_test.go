package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		var got *domain.Message

		_, err := bus.Subscribe(ctx, tenantID, domain.TopicAnalysisRequested, func(ctx context.Context, msg *domain.Message) error {
			got = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, tenantID, domain.TopicAnalysisRequested, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		waitFor(t, &wg)

		if string(got.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(got.Payload))
		}
		if got.TenantID != tenantID || got.Topic != domain.TopicAnalysisRequested {
			t.Errorf("unexpected envelope %+v", got)
		}
		if got.ID == "" || got.Timestamp == 0 {
			t.Error("expected message id and timestamp")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32
		var wg sync.WaitGroup
		wg.Add(1)

		bus.Subscribe(ctx, "tenant-a", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			wg.Done()
			return nil
		})
		bus.Subscribe(ctx, "tenant-b", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-a", "isolation.topic", []byte("x"))
		waitFor(t, &wg)
		time.Sleep(20 * time.Millisecond)

		if received1.Load() != 1 || received2.Load() != 0 {
			t.Errorf("expected 1/0 deliveries, got %d/%d", received1.Load(), received2.Load())
		}
	})

	t.Run("AnyTenant", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)
		var mu sync.Mutex
		tenants := map[string]bool{}

		bus.Subscribe(ctx, domain.AnyTenant, "fanin.topic", func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			tenants[msg.TenantID] = true
			mu.Unlock()
			wg.Done()
			return nil
		})

		bus.Publish(ctx, "tenant-x", "fanin.topic", nil)
		bus.Publish(ctx, "tenant-y", "fanin.topic", nil)
		waitFor(t, &wg)

		if !tenants["tenant-x"] || !tenants["tenant-y"] {
			t.Errorf("expected both tenants, got %v", tenants)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var received atomic.Int32
		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			received.Add(1)
			return nil
		})
		if sub.Topic() != "unsub.topic" {
			t.Errorf("expected topic 'unsub.topic', got '%s'", sub.Topic())
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.Publish(ctx, tenantID, "unsub.topic", nil)
		time.Sleep(20 * time.Millisecond)
		if received.Load() != 0 {
			t.Errorf("expected no deliveries after unsubscribe, got %d", received.Load())
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		bus.Subscribe(ctx, tenantID, "echo", func(ctx context.Context, msg *domain.Message) error {
			return bus.Publish(ctx, tenantID, msg.Metadata["reply_to"], append([]byte("re:"), msg.Payload...))
		})

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		reply, err := bus.Request(reqCtx, tenantID, "echo", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "re:ping" {
			t.Errorf("expected 're:ping', got %q", reply)
		}
	})

	t.Run("TenantRequired", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "x", nil); err == nil {
			t.Error("expected error for empty tenant")
		}
		if _, err := bus.Subscribe(ctx, "", "x", nil); err == nil {
			t.Error("expected error for empty tenant")
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "tenant-001", "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Publish(ctx, "tenant-001", "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	const messageCount = 100

	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "tenant-load", "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "tenant-load", "load.topic", []byte("msg"))
	}
	waitFor(t, &wg)

	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "rabbitmq"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestSubjectNaming(t *testing.T) {
	if got := natsSubject("t1", domain.TopicAlertRaised); got != "forensics.t1.alert.raised" {
		t.Errorf("unexpected subject %q", got)
	}
	if got := natsSubject(domain.AnyTenant, domain.TopicAnalysisRequested); got != "forensics.*.analysis.requested" {
		t.Errorf("unexpected wildcard subject %q", got)
	}
	topic := kafkaTopic(domain.TopicAnalysisCompleted)
	if topic != "forensics.analysis.completed" {
		t.Errorf("unexpected kafka topic %q", topic)
	}
	if kafkaTopicName(&topic) != domain.TopicAnalysisCompleted {
		t.Errorf("expected round trip to bus topic, got %q", kafkaTopicName(&topic))
	}
}

func TestKafkaGroupID(t *testing.T) {
	a := kafkaGroupID(DefaultKafkaGroupID, "tenant-a", domain.TopicAnalysisRequested)
	b := kafkaGroupID(DefaultKafkaGroupID, "tenant-b", domain.TopicAnalysisRequested)
	if a != "osprey-forensics.tenant-a.analysis.requested" {
		t.Errorf("unexpected group %q", a)
	}
	if a == b {
		t.Errorf("expected tenants to consume in separate groups, both got %q", a)
	}
	if c := kafkaGroupID(DefaultKafkaGroupID, "tenant-a", domain.TopicAlertRaised); c == a {
		t.Errorf("expected topics to consume in separate groups, both got %q", c)
	}
	if got := kafkaGroupID("g", domain.AnyTenant, domain.TopicAlertRaised); got != "g.all.alert.raised" {
		t.Errorf("unexpected wildcard group %q", got)
	}
}

func TestEnvelope(t *testing.T) {
	msg := newMessage("t1", "topic", []byte(`{"a":1}`))
	data, err := encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.ID != msg.ID || string(got.Payload) != `{"a":1}` {
		t.Errorf("unexpected decoded message %+v", got)
	}
	if _, err := decode([]byte("not json")); err == nil {
		t.Error("expected decode error")
	}
	if !matchesTenant(domain.AnyTenant, "x") || matchesTenant("y", "x") {
		t.Error("unexpected tenant matching")
	}
}
