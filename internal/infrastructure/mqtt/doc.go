// Package mqtt provides the MQTT client behind the spherolink bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS guarantees
//   - Wildcard subscriptions restored after reconnects
//   - A retained health topic with Last Will and Testament
//
// # Topics
//
//	spherolink/command/{toy}
//	spherolink/ack/{toy}
//	spherolink/event/{toy}/{notification}
//	spherolink/state/{toy}
//	spherolink/health
//
// The prefix comes from mqtt.topic_prefix.
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) outside a trusted network
//   - Credentials are best supplied via SPHEROLINK_MQTT_USERNAME/PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.Subscribe(client.Topics().AllCommands(), client.QoS(), handler)
package mqtt
