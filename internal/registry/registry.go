package registry

import (
	"time"

	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/storage"
)

// Storage key and document version per registry.
const (
	entityStorageKey = "core.entity_registry"
	deviceStorageKey = "core.device_registry"
	areaStorageKey   = "core.area_registry"
	floorStorageKey  = "core.floor_registry"
	labelStorageKey  = "core.label_registry"

	storageVersion      = 1
	storageMinorVersion = 1
)

// saveDelay is the quiet period before a mutated registry is flushed.
const saveDelay = storage.DefaultDelay

// Logger defines the logging interface used by the registries.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// EventBus is the interface the registries need from the bus package.
type EventBus interface {
	Fire(event *core.Event)
}

type noopBus struct{}

func (noopBus) Fire(*core.Event) {}

// Mutation actions reported in <registry>_updated events.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionRemove = "remove"
)

func updatedEvent(eventType, idKey, id, action string) *core.Event {
	return core.NewEvent(eventType, map[string]any{
		"action": action,
		idKey:    id,
	}, core.NewContext())
}

func now() time.Time {
	return time.Now().UTC()
}
