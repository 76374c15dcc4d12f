package alerts

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"voltage-monitor/internal/observability/metrics"
	reading "voltage-monitor/internal/reading/domain"
)

// Notifier delivers an alert message to an external channel.
type Notifier interface {
	Notify(ctx context.Context, msg AlertMessage) error
}

// AlertMessage describes one out-of-range voltage observation.
type AlertMessage struct {
	DeviceID     string
	VoltageVolts float64
	MinOK        float64
	MaxOK        float64
	ObservedAt   time.Time
}

// Checker inspects each persisted batch for out-of-range voltages and fires
// the notifier, with a per-device cooldown so a sagging line does not spam the
// channel every cycle. Notification failures are logged and counted, never
// propagated into the collection loop.
type Checker struct {
	notifier Notifier
	minOK    float64
	maxOK    float64
	cooldown time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewChecker constructs a Checker. A zero threshold disables that bound.
func NewChecker(notifier Notifier, minOK, maxOK float64, cooldown time.Duration, logger *log.Logger) *Checker {
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return &Checker{
		notifier: notifier,
		minOK:    minOK,
		maxOK:    maxOK,
		cooldown: cooldown,
		logger:   logger,
		lastSent: make(map[string]time.Time),
	}
}

// ObserveBatch checks every reading in the batch against the thresholds.
func (c *Checker) ObserveBatch(ctx context.Context, batch []reading.Reading) {
	if c == nil || c.notifier == nil {
		return
	}
	for _, item := range batch {
		if !c.outOfRange(item.VoltageVolts) {
			continue
		}
		if !c.shouldSend(item.DeviceID) {
			continue
		}
		msg := AlertMessage{
			DeviceID:     item.DeviceID,
			VoltageVolts: item.VoltageVolts,
			MinOK:        c.minOK,
			MaxOK:        c.maxOK,
			ObservedAt:   item.Timestamp,
		}
		if err := c.notifier.Notify(ctx, msg); err != nil {
			metrics.IncAlert(metrics.ResultError)
			if c.logger != nil {
				c.logger.Printf("alert notify error: device=%s err=%v", item.DeviceID, err)
			}
			continue
		}
		metrics.IncAlert(metrics.ResultSuccess)
	}
}

func (c *Checker) outOfRange(voltage float64) bool {
	if c.minOK != 0 && voltage < c.minOK {
		return true
	}
	if c.maxOK != 0 && voltage > c.maxOK {
		return true
	}
	return false
}

func (c *Checker) shouldSend(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if last, ok := c.lastSent[deviceID]; ok && now.Sub(last) < c.cooldown {
		return false
	}
	c.lastSent[deviceID] = now
	return true
}

func formatAlertMessage(msg AlertMessage) string {
	return fmt.Sprintf("[Voltage Alert]\nDevice: %s\nVoltage: %.1fV\nAllowed: %.1f-%.1fV\nObserved: %s",
		msg.DeviceID, msg.VoltageVolts, msg.MinOK, msg.MaxOK, msg.ObservedAt.Format(time.RFC3339))
}
