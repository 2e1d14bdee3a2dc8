package telemetry

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMetric records a single device measurement.
//
// The write is non-blocking; points are batched and sent
// asynchronously.
//
// Example:
//
//	client.WriteDeviceMetric("mihome_158d0001a2b3c4", "temperature", 21.5)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint records a custom point with full control over tags and
// fields.
//
// Example:
//
//	client.WritePoint("hub_stats",
//	    map[string]string{"hub_id": "hearth-01"},
//	    map[string]interface{}{"devices_online": 12})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
