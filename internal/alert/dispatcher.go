package alert

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// deliveryTimeout bounds one event delivery including retries.
const deliveryTimeout = 30 * time.Second

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []Config
	log     logrus.FieldLogger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty; a nil Dispatcher drops every event.
func NewDispatcher(configs []Config, log logrus.FieldLogger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{configs: configs, log: log}
}

// Dispatch sends the event to every webhook subscribed to event.Event.
// Delivery runs in the background; failures are logged.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg Config) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			if err := Send(ctx, cfg, event); err != nil {
				d.log.WithError(err).WithFields(logrus.Fields{
					"call_id": event.CallID,
					"event":   event.Event,
				}).Warn("alert delivery failed")
			}
		}(cfg)
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func matches(events []string, event Event) bool {
	for _, e := range events {
		if e == event.Event {
			return true
		}
	}
	return false
}
