//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"
)

// These tests need a broker at 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func TestIntegration_Roundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "spherolink-int-roundtrip"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	topics := client.Topics()
	var (
		mu  sync.Mutex
		got = map[string]string{}
	)
	done := make(chan struct{}, 2)
	err = client.Subscribe(topics.AllCommands(), 1, func(topic string, payload []byte) error {
		mu.Lock()
		got[topic] = string(payload)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, toy := range []string{"SB-1", "SM-2"} {
		if err := client.Publish(topics.Command(toy), []byte(`{"command":"wake"}`), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	for range 2 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("received %v, want two command topics", got)
	}
	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d", client.SubscriptionCount())
	}
}
