package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openfraud/merlin/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(16)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var received []*domain.Message

	sub, err := b.Subscribe(ctx, domain.TopicDayRebuilt, func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if sub.Topic() != domain.TopicDayRebuilt {
		t.Errorf("unexpected topic %s", sub.Topic())
	}

	if err := b.Publish(ctx, domain.TopicDayRebuilt, []byte(`{"businessDate":"2026-03-01"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("message not delivered within a second")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	msg := received[0]
	mu.Unlock()

	if msg.Topic != domain.TopicDayRebuilt {
		t.Errorf("unexpected topic %s", msg.Topic)
	}
	if msg.ID == "" {
		t.Error("message id not assigned")
	}
	if string(msg.Payload) != `{"businessDate":"2026-03-01"}` {
		t.Errorf("unexpected payload %s", msg.Payload)
	}
}

func TestChannelBusTopicIsolation(t *testing.T) {
	b := NewChannelBus(16)
	defer b.Close()
	ctx := context.Background()

	got := make(chan string, 4)
	_, err := b.Subscribe(ctx, domain.TopicAlertCreated, func(ctx context.Context, msg *domain.Message) error {
		got <- msg.Topic
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Published on a different topic: must not arrive.
	if err := b.Publish(ctx, domain.TopicDayRebuilt, []byte("x")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := b.Publish(ctx, domain.TopicAlertCreated, []byte("y")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case topic := <-got:
		if topic != domain.TopicAlertCreated {
			t.Errorf("received message from wrong topic %s", topic)
		}
	case <-time.After(time.Second):
		t.Fatal("subscribed topic message not delivered")
	}

	select {
	case topic := <-got:
		t.Errorf("unexpected second delivery from topic %s", topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(16)
	ctx := context.Background()

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping failed on open bus: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Closing twice is fine.
	if err := b.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := b.Ping(ctx); err == nil {
		t.Error("expected Ping to fail on closed bus")
	}
	if err := b.Publish(ctx, domain.TopicDayRebuilt, []byte("x")); err == nil {
		t.Error("expected Publish to fail on closed bus")
	}
	if _, err := b.Subscribe(ctx, domain.TopicDayRebuilt, func(context.Context, *domain.Message) error { return nil }); err == nil {
		t.Error("expected Subscribe to fail on closed bus")
	}
}

func TestNewBusFactory(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 8})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected *ChannelBus, got %T", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
