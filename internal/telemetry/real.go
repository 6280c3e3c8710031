package telemetry

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"cryostat_controller/internal/models"
)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &RealPublisher{client: client}, nil
}

// PublishTemperature sends one reading at QoS 0, not retained. Points are
// periodic, so a lost one is replaced on the next tick.
func (p *RealPublisher) PublishTemperature(st models.TemperatureStatus) error {
	payload, err := FormatTemperaturePayload(st)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(TopicTemperature, 0, false, payload)
}

// PublishStability sends the verdict at QoS 1, retained, so subscribers that
// connect later still learn the current state.
func (p *RealPublisher) PublishStability(st models.StabilityStatus) error {
	payload, err := FormatStabilityPayload(st)
	if err != nil {
		return fmt.Errorf("format stability payload: %w", err)
	}
	return p.publish(TopicStability, 1, true, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
