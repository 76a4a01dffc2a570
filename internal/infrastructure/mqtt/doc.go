// Package mqtt provides MQTT client connectivity for the Gray Logic Zigbee bridge.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Gray Logic uses MQTT as the message bus between Core and protocol
// bridges. The Zigbee bridge registers devices, publishes their state and
// health, and takes commands and pairing requests over it.
//
//	Gray Logic Core ↔ MQTT Broker ↔ Zigbee bridge ↔ coordinator
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.ConnectWithWill(cfg.MQTT, mqtt.Will{Topic: lwtTopic, Payload: lwtPayload})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Wait for a pairing response
//	err = client.Subscribe(mqtt.Topics{}.BridgeResponse("zigbee", requestID), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Switch a device on
//	topic := mqtt.Topics{}.BridgeCommand("zigbee", "zigbee00124b0001a1b2c31/238")
//	client.Publish(topic, []byte(`{"id":"cmd-1","value":true}`), 1, false)
package mqtt
