// Package mqtt provides MQTT client connectivity for the hub.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the hub's outward-facing message bus: the event relay mirrors
// internal bus events to hearth/event/+, canonical device state goes to
// hearth/device/{id}/state, and MQTT-speaking integrations (the Mi Home
// gateway plugin) receive sensor readings through subscriptions.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	topic := mqtt.Topics{}.DeviceState("light_001")
//	client.Publish(topic, []byte(`{"power":true}`), 1, true)
package mqtt
