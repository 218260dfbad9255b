// Package mqtt is the session engine: it opens, drives and closes one MQTT
// connection at a time on top of eclipse/paho.mqtt.golang.
//
// Unlike a long-lived bus client, a Session here never reconnects on its own.
// Every outcome (open succeeded, open failed, connection closed, message
// delivered, subscription acknowledged, publish completed) is reported as a
// callback posted to the caller's event loop, so the connection state machine
// sees events one at a time and in order. Reconnection is the caller's
// decision: it opens a new Session with a freshly minted password.
//
// # Closure semantics
//
// A ConnectionEvent with State StateClosed and a nil Err means the device
// asked for the disconnect (Session.Disconnect). Any other closure carries the
// transport error.
//
// # Usage
//
//	engine := mqtt.NewEngine(loop)
//	sess, err := engine.Open(mqtt.ConnectParams{
//	    Host:     "mqtt.googleapis.com",
//	    Port:     8883,
//	    TLS:      true,
//	    Username: "unused",
//	    Password: tok.Value,
//	    ClientID: cfg.Device.DevicePath,
//	}, func(ev mqtt.ConnectionEvent) {
//	    // runs on the loop
//	})
//
// # Topics
//
// MatchTopic implements MQTT filter matching (+ and #) for local dispatch;
// Topics builds the per-device topic names.
package mqtt
