// Package influxdb records device lifecycle telemetry in InfluxDB.
//
// It wraps the influxdb-client-go v2 non-blocking write API. A Client owns the
// connection; a Recorder turns connection transitions, publish outcomes and
// inbound deliveries into points:
//
//	devicelink_lifecycle  tags: device_id, instance, from, to, event
//	devicelink_publish    tags: device_id, instance, topic, outcome
//	devicelink_inbound    tags: device_id, instance, topic, outcome
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	rec := influxdb.NewRecorder(client, cfg.Device.DeviceID(), logger.Instance())
//	manager.SetRecorder(rec)
//	router.SetRecorder(rec)
//
// # Thread Safety
//
// Client and Recorder are safe for concurrent use. Writes are batched and never
// block the event loop; write failures are reported through SetOnError.
package influxdb
