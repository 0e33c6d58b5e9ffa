// Package infra contains technical adapters such as the MQTT robot bridge,
// the simulator, table readers and metrics exporters. These packages should
// depend only on the interfaces defined in the core packages.
package infra
