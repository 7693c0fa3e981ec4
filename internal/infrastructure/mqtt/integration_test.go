//go:build integration

package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/drivelink/internal/connection"
	"github.com/nerrad567/drivelink/internal/infrastructure/config"
)

// Integration tests against a running broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestIntegration_ConnectAndHealth(t *testing.T) {
	client, err := Connect(integrationConfig("drivelink-int-connect"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestIntegration_StatusIsRetained(t *testing.T) {
	pub, err := Connect(integrationConfig("drivelink-int-pub"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer pub.Close()

	NewEventPublisher(pub, 1, nil).HandleEvent(connection.Event{
		Kind:   connection.EventConnected,
		Status: connection.Snapshot{Connected: true, Identity: "0x3a1f2b3c4d5e"},
	})

	sub, err := Connect(integrationConfig("drivelink-int-sub"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sub.Close()

	var (
		once sync.Once
		got  = make(chan []byte, 1)
	)
	err = sub.Subscribe(Topics{}.ConnectionStatus(), 1, func(_ string, payload []byte) error {
		once.Do(func() { got <- payload })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(Topics{}.ConnectionStatus()) || sub.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	select {
	case payload := <-got:
		if len(payload) == 0 {
			t.Error("empty retained status")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained status not received")
	}
}
