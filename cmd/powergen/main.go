package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wattwatch/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	interval   = flag.Duration("interval", 2*time.Second, "Interval between readings")
	stateRef   = flag.String("state", "plug.washer", "Source state reference the readings are published for")
	idleWatts  = flag.Float64("idle", 1.5, "Standby power draw in W")
	runWatts   = flag.Float64("running", 450, "Average power draw while running in W")
	idleFor    = flag.Duration("idle-for", 2*time.Minute, "Length of the idle phase")
	runFor     = flag.Duration("run-for", 5*time.Minute, "Length of the running phase")
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	mqttTopic  = flag.String("topic", "", "MQTT topic to publish to (default wattwatch/<state>/power)")
)

// ApplianceSimulator produces the power profile of an appliance that alternates between idle and running
type ApplianceSimulator struct {
	stateRef  string
	idleWatts float64
	runWatts  float64
	idleFor   time.Duration
	runFor    time.Duration
	started   time.Time
	logger    *zap.Logger
}

func NewApplianceSimulator(stateRef string, idleWatts, runWatts float64, idleFor, runFor time.Duration, logger *zap.Logger) *ApplianceSimulator {
	return &ApplianceSimulator{
		stateRef:  stateRef,
		idleWatts: idleWatts,
		runWatts:  runWatts,
		idleFor:   idleFor,
		runFor:    runFor,
		started:   time.Now(),
		logger:    logger,
	}
}

// running reports whether the simulated cycle is in its running phase at now
func (a *ApplianceSimulator) running(now time.Time) bool {
	cycle := a.idleFor + a.runFor
	if cycle <= 0 {
		return false
	}
	return now.Sub(a.started)%cycle >= a.idleFor
}

// GenerateReading generates a realistic power reading
func (a *ApplianceSimulator) GenerateReading() *models.PowerReading {
	now := time.Now()

	value := a.idleWatts + (rand.Float64()-0.5)*a.idleWatts*0.4
	if a.running(now) {
		// Heating element and motor phases swing the draw around the average
		value = a.runWatts + (rand.Float64()-0.5)*a.runWatts*0.6
		if rand.Float64() < 0.1 {
			value = a.runWatts * 0.05
		}
	}

	return &models.PowerReading{
		State:     a.stateRef,
		Value:     math.Round(math.Max(value, 0)*100) / 100,
		Timestamp: now,
	}
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	topic := *mqttTopic
	if topic == "" {
		topic = fmt.Sprintf("wattwatch/%s/power", *stateRef)
	}

	logger.Info("Appliance power generator started",
		zap.String("state", *stateRef),
		zap.Duration("interval", *interval),
		zap.Float64("idle_watts", *idleWatts),
		zap.Float64("running_watts", *runWatts),
		zap.String("mqtt_broker", *mqttBroker),
		zap.String("mqtt_topic", topic),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	// Initialize MQTT client (simulating a smart plug)
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID(fmt.Sprintf("%s-generator", *stateRef))
	opts.SetUsername(*mqttUser)
	opts.SetPassword(*mqttPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
	}

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer mqttClient.Disconnect(250)

	sim := NewApplianceSimulator(*stateRef, *idleWatts, *runWatts, *idleFor, *runFor, logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping generator")
		cancel()
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	messageCount := 0
	startTime := time.Now()
	wasRunning := false

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down gracefully",
				zap.Int("total_messages", messageCount),
				zap.Duration("total_uptime", time.Since(startTime)),
			)
			mqttClient.Disconnect(250)
			return

		case <-ticker.C:
			reading := sim.GenerateReading()

			if running := sim.running(reading.Timestamp); running != wasRunning {
				logger.Info("Simulated appliance phase changed", zap.Bool("running", running))
				wasRunning = running
			}

			jsonData, err := json.Marshal(reading)
			if err != nil {
				logger.Error("Failed to marshal power reading", zap.Error(err))
				continue
			}

			token := mqttClient.Publish(topic, 0, false, jsonData)
			if token.Wait() && token.Error() != nil {
				logger.Error("Failed to publish MQTT message",
					zap.Error(token.Error()),
					zap.Int("message_count", messageCount))
				continue
			}

			messageCount++
			logger.Debug("Published power reading",
				zap.String("topic", topic),
				zap.Float64("value", reading.Value))
		}
	}
}
