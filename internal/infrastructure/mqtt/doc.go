// Package mqtt connects the Hearth event bus to an MQTT broker.
//
// The Client wraps paho.mqtt.golang with auto-reconnect, subscription
// restoration and a Last Will message on hearth/system/status so other
// services can detect when the hub drops off the broker.
//
// The Bridge rides on the Client: it ingests events published under
// hearth/event/# and fires them on the local bus as origin=remote, and
// it republishes local state transitions to hearth/state/<entity_id> as
// retained messages. Remote events are never republished, so two hubs
// sharing a broker cannot feed each other loops.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	bridge := mqtt.NewBridge(client, eventBus, mqtt.NewTopics(cfg.MQTT.TopicPrefix), byte(cfg.MQTT.QoS), logger)
//	bridge.Start()
//	defer bridge.Stop()
package mqtt
