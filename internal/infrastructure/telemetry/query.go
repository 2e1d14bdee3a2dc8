package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Reading is one historical data point for a device measurement.
type Reading struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// QueryDeviceHistory returns the recorded values of one device
// measurement within a time range, oldest first.
//
// Example:
//
//	readings, err := client.QueryDeviceHistory(ctx,
//	    "mihome_158d0001a2b3c4", "temperature",
//	    time.Now().Add(-24*time.Hour), time.Now())
func (c *Client) QueryDeviceHistory(ctx context.Context, deviceID, measurement string, start, end time.Time) ([]Reading, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if strings.TrimSpace(deviceID) == "" || strings.TrimSpace(measurement) == "" {
		return nil, fmt.Errorf("telemetry: device_id and measurement are required")
	}
	if end.Before(start) {
		return nil, fmt.Errorf("telemetry: end must be after start")
	}

	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == "device_metrics")
  |> filter(fn: (r) => r.device_id == %q and r.measurement == %q)
  |> filter(fn: (r) => r._field == "value")
  |> sort(columns: ["_time"])`,
		c.cfg.Bucket,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		deviceID,
		measurement,
	)

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("telemetry: querying history: %w", err)
	}
	defer result.Close() //nolint:errcheck // nothing useful to do with a close error here

	var readings []Reading
	for result.Next() {
		record := result.Record()
		value, ok := record.Value().(float64)
		if !ok {
			continue
		}
		readings = append(readings, Reading{
			Time:  record.Time(),
			Value: value,
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("telemetry: reading history result: %w", err)
	}

	return readings, nil
}
