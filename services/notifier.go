package services

import (
	"context"
	"regexp"
	"sync"
	"time"

	"wattwatch/models"

	"go.uber.org/zap"
)

// Notifier delivers a device event to one channel
type Notifier interface {
	Notify(ctx context.Context, event models.DeviceEvent) error
}

type namedNotifier struct {
	name     string
	notifier Notifier
}

// Dispatcher fans a device event out to every configured channel without waiting for delivery
type Dispatcher struct {
	channels []namedNotifier
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		timeout: timeout,
		logger:  logger,
	}
}

// Add registers a channel. Nil notifiers are ignored so unconfigured channels need no special casing.
func (d *Dispatcher) Add(name string, n Notifier) {
	if n == nil {
		return
	}
	d.channels = append(d.channels, namedNotifier{name: name, notifier: n})
}

// Notify is fire-and-forget: every channel is called in the background and failures are only logged
func (d *Dispatcher) Notify(ctx context.Context, event models.DeviceEvent) error {
	base := context.WithoutCancel(ctx)

	for _, ch := range d.channels {
		d.wg.Add(1)
		go func(ch namedNotifier) {
			defer d.wg.Done()

			sendCtx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			if err := ch.notifier.Notify(sendCtx, event); err != nil {
				d.logger.Error("Failed to deliver device event",
					zap.String("channel", ch.name),
					zap.String("device_id", event.Device.ID),
					zap.String("kind", string(event.Kind)),
					zap.Error(err))
			}
		}(ch)
	}

	return nil
}

// Wait blocks until in-flight deliveries finish or the timeout passes
func (d *Dispatcher) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

var devicePlaceholder = regexp.MustCompile(`(?i)%device%`)

// RenderTemplate substitutes the %device% placeholder (case-insensitive)
func RenderTemplate(tpl, deviceName string) string {
	return devicePlaceholder.ReplaceAllLiteralString(tpl, deviceName)
}

// templateFor picks the message template for an event kind
func templateFor(kind models.EventKind, started, finished string) string {
	switch kind {
	case models.EventStarted:
		return started
	case models.EventFinished:
		return finished
	default:
		return ""
	}
}
