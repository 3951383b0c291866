// Package influxdb ships node telemetry to an InfluxDB v2 server.
//
// It wraps influxdb-client-go with the node's connection handling: a ping on
// connect, batched non-blocking writes, and a device tag stamped on every
// point so a fleet can share one bucket.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, "baozi-a1b2c3d4e5f6")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WritePoint("ota_transfer",
//	    map[string]string{"outcome": "committed"},
//	    map[string]any{"received": 204800})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Write errors are delivered
// asynchronously through the SetOnError callback.
package influxdb
