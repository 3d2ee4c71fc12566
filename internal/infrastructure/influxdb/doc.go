// Package influxdb exports numeric entity states to InfluxDB v2.
//
// The Client wraps influxdb-client-go's non-blocking write API with
// batching and an async error callback. The Exporter rides on it:
// subscribed to state_changed, it writes one point per numeric
// transition with the entity's domain as the measurement, a single
// "value" field and an entity_id tag:
//
//	sensor,entity_id=sensor.lounge_temp value=21.5
//
// Non-numeric states are skipped silently; a light that reports "on"
// produces no point. Writes never block bus delivery.
package influxdb
