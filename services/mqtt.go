package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wattwatch/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTSource subscribes to smart plug power topics and feeds the readings into a sink.
// Payloads are a JSON PowerReading or a bare number; a bare number is keyed by its topic.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	sink   ReadingSink
	logger *zap.Logger
}

func NewMQTTSource(cfg *config.Config, sink ReadingSink, logger *zap.Logger) *MQTTSource {
	s := &MQTTSource{
		topic:  cfg.MQTTTopic,
		sink:   sink,
		logger: logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.MQTTBroker))
	opts.SetClientID(fmt.Sprintf("wattwatch-%d", time.Now().UnixNano()))
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	// Subscriptions are dropped with a clean session, so resubscribe on every connect
	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
		if token := client.Subscribe(s.topic, 0, s.handleMessage); token.Wait() && token.Error() != nil {
			logger.Error("Failed to subscribe to power topic",
				zap.String("topic", s.topic),
				zap.Error(token.Error()))
			return
		}
		logger.Info("Subscribed to power topic", zap.String("topic", s.topic))
	}

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker and blocks until ctx is cancelled
func (s *MQTTSource) Start(ctx context.Context) error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	<-ctx.Done()

	s.logger.Info("Disconnecting from MQTT broker")
	s.client.Disconnect(250)
	return nil
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	reading, err := decodeReading(msg.Payload(), msg.Topic())
	if err != nil {
		s.logger.Warn("Dropping malformed power reading",
			zap.String("topic", msg.Topic()),
			zap.Error(err))
		return
	}

	s.logger.Debug("Received power reading from MQTT",
		zap.String("state", reading.State),
		zap.Float64("value", reading.Value))

	s.sink.Update(reading)
}

// brokerURL accepts host:port as well as a full URL
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
