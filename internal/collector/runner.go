package collector

import (
	"context"
	"log"
	"time"

	reading "voltage-monitor/internal/reading/domain"
)

// DeviceClient fetches raw status for one device from the cloud API.
type DeviceClient interface {
	GetStatus(ctx context.Context, deviceID string) ([]reading.StatusField, error)
}

// Clock supplies the cycle timestamp. Separate so tests can pin time.
type Clock interface {
	Now() time.Time
}

// Runner executes one collection cycle across the configured devices.
type Runner struct {
	client DeviceClient
	clock  Clock
	logger *log.Logger
}

// NewRunner constructs a Runner.
func NewRunner(client DeviceClient, clock Clock, logger *log.Logger) *Runner {
	return &Runner{client: client, clock: clock, logger: logger}
}

// RunOnce polls every device once and returns the accumulated batch plus the
// number of per-device failures. A single device failing never aborts the
// cycle; the device is retried on the next scheduled cycle, not now.
//
// All readings in the batch share one timestamp taken at cycle start, so
// readings from the same cycle are directly comparable even though the polls
// themselves are skewed in time.
func (r *Runner) RunOnce(ctx context.Context, deviceIDs []string) ([]reading.Reading, int) {
	cycleAt := r.clock.Now()
	batch := make([]reading.Reading, 0, len(deviceIDs))
	failures := 0

	for _, deviceID := range deviceIDs {
		fields, err := r.client.GetStatus(ctx, deviceID)
		if err != nil {
			failures++
			if r.logger != nil {
				r.logger.Printf("collect error: device=%s err=%v", deviceID, err)
			}
			continue
		}

		item, ok := reading.Normalize(deviceID, fields)
		if !ok {
			failures++
			if r.logger != nil {
				r.logger.Printf("no voltage data: device=%s fields=%d", deviceID, len(fields))
			}
			continue
		}

		item.Timestamp = cycleAt
		item.RecordedAt = cycleAt
		batch = append(batch, item)

		if r.logger != nil {
			r.logger.Printf("collected: device=%s voltage=%.1fV", deviceID, item.VoltageVolts)
		}
	}

	return batch, failures
}
