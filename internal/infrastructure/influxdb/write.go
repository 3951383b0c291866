package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues a point stamped with the current time.
//
// The device tag is added to tags; a caller-supplied device tag is
// overwritten. Points written after Close are dropped.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, c.now())
}

// WritePointWithTime queues a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(c.point(measurement, tags, fields, ts))
}

func (c *Client) point(measurement string, tags map[string]string, fields map[string]any, ts time.Time) *write.Point {
	tagged := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		if v != "" {
			tagged[k] = v
		}
	}
	if c.device != "" {
		tagged[DeviceTag] = c.device
	}
	return write.NewPoint(measurement, tagged, fields, ts)
}
