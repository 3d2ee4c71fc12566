package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhub/hearth-core/internal/core"
)

func TestAreaCreateAndLookup(t *testing.T) {
	bus := &recordingBus{}
	reg := NewAreaRegistry(t.TempDir(), bus)

	created, err := reg.Create("Living Room")
	require.NoError(t, err)
	assert.Equal(t, "living_room", created.ID)

	byName := reg.GetByName("LIVING room")
	require.NotNil(t, byName)
	assert.Equal(t, created.ID, byName.ID)

	_, err = reg.Create("living room")
	assert.ErrorIs(t, err, ErrNameTaken)

	events := bus.byType(core.EventAreaRegistryUpdated)
	require.Len(t, events, 1)
	assert.Equal(t, ActionCreate, events[0].Data["action"])
}

func TestAreaUpdateRename(t *testing.T) {
	reg := NewAreaRegistry(t.TempDir(), nil)

	created, err := reg.Create("Lounge")
	require.NoError(t, err)
	_, err = reg.Create("Kitchen")
	require.NoError(t, err)

	_, err = reg.Update(created.ID, func(e *AreaEntry) { e.Name = "Kitchen" })
	assert.ErrorIs(t, err, ErrNameTaken)

	updated, err := reg.Update(created.ID, func(e *AreaEntry) {
		e.Name = "Snug"
		e.Icon = "mdi:sofa"
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.NotNil(t, reg.GetByName("snug"))
	assert.Nil(t, reg.GetByName("lounge"))
}

func TestAreaFloorAssignment(t *testing.T) {
	dir := t.TempDir()
	floors := NewFloorRegistry(dir, nil)
	areas := NewAreaRegistry(dir, nil)

	ground, err := floors.Create("Ground Floor", 0)
	require.NoError(t, err)
	kitchen, err := areas.Create("Kitchen")
	require.NoError(t, err)
	_, err = areas.Create("Bedroom")
	require.NoError(t, err)

	_, err = areas.Update(kitchen.ID, func(e *AreaEntry) { e.FloorID = ground.ID })
	require.NoError(t, err)

	inFloor := areas.InFloor(ground.ID)
	require.Len(t, inFloor, 1)
	assert.Equal(t, "Kitchen", inFloor[0].Name)
}

func TestAreaRemove(t *testing.T) {
	reg := NewAreaRegistry(t.TempDir(), nil)

	created, err := reg.Create("Garage")
	require.NoError(t, err)

	assert.True(t, reg.Remove(created.ID))
	assert.False(t, reg.Remove(created.ID))
	assert.Nil(t, reg.GetByName("garage"))
	assert.Equal(t, 0, reg.Len())
}

func TestAreaIDCollision(t *testing.T) {
	reg := NewAreaRegistry(t.TempDir(), nil)

	first, err := reg.Create("Guest Room")
	require.NoError(t, err)
	require.True(t, reg.Remove(first.ID))

	// An old id may be reused once free; a live collision gets a suffix.
	a, err := reg.Create("guest-room")
	require.NoError(t, err)
	assert.Equal(t, "guest_room", a.ID)
	b, err := reg.Create("Guest    Room 2")
	require.NoError(t, err)
	assert.Equal(t, "guest_room_2", b.ID)
}

func TestFloorLevels(t *testing.T) {
	reg := NewFloorRegistry(t.TempDir(), nil)

	_, err := reg.Create("Attic", 2)
	require.NoError(t, err)
	_, err = reg.Create("Ground", 0)
	require.NoError(t, err)
	_, err = reg.Create("First", 1)
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "Ground", list[0].Name)
	assert.Equal(t, "First", list[1].Name)
	assert.Equal(t, "Attic", list[2].Name)

	at := reg.AtLevel(1)
	require.Len(t, at, 1)
	assert.Equal(t, "First", at[0].Name)
}

func TestLabelRegistry(t *testing.T) {
	bus := &recordingBus{}
	reg := NewLabelRegistry(t.TempDir(), bus)

	created, err := reg.Create("Holiday lights")
	require.NoError(t, err)

	_, err = reg.Update(created.ID, func(e *LabelEntry) {
		e.Color = "red"
		e.Description = "Everything on the festive circuit"
	})
	require.NoError(t, err)

	got := reg.GetByName("HOLIDAY LIGHTS")
	require.NotNil(t, got)
	assert.Equal(t, "red", got.Color)

	assert.True(t, reg.Remove(created.ID))
	assert.Len(t, bus.byType(core.EventLabelRegistryUpdated), 3)
}

func TestPlacesPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	areas := NewAreaRegistry(dir, nil)
	floors := NewFloorRegistry(dir, nil)
	labels := NewLabelRegistry(dir, nil)

	ground, err := floors.Create("Ground", 0)
	require.NoError(t, err)
	kitchen, err := areas.Create("Kitchen")
	require.NoError(t, err)
	_, err = areas.Update(kitchen.ID, func(e *AreaEntry) { e.FloorID = ground.ID })
	require.NoError(t, err)
	_, err = labels.Create("Critical")
	require.NoError(t, err)

	require.NoError(t, areas.Flush())
	require.NoError(t, floors.Flush())
	require.NoError(t, labels.Flush())

	areas2 := NewAreaRegistry(dir, nil)
	floors2 := NewFloorRegistry(dir, nil)
	labels2 := NewLabelRegistry(dir, nil)
	require.NoError(t, areas2.Load())
	require.NoError(t, floors2.Load())
	require.NoError(t, labels2.Load())

	assert.Equal(t, 1, areas2.Len())
	assert.Equal(t, 1, floors2.Len())
	assert.Equal(t, 1, labels2.Len())
	assert.Len(t, areas2.InFloor(ground.ID), 1)
	assert.NotNil(t, labels2.GetByName("critical"))
}
