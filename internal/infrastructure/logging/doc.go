// Package logging provides structured logging for Hearth.
//
// It wraps log/slog behind a single Logger type whose promoted methods
// satisfy the narrow logging interfaces the kernel packages declare, so
// hearthd can hand one configured logger to the bus, the state store,
// the registries, the script executor and the infrastructure clients.
//
// # Configuration
//
// The logging section of config.yaml selects level, format and output:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	log := logging.New(cfg.Logging, version)
//	eventBus.SetLogger(log.With("component", "bus"))
//	log.Info("hearth started", "entities", states.EntityCount())
//
// Every record carries the service name and hearthd version as default
// fields. Never log secrets, tokens or broker passwords; log identifying
// prefixes instead.
package logging
