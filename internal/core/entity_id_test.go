package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityID(t *testing.T) {
	id, err := ParseEntityID("light.living_room")
	require.NoError(t, err)
	assert.Equal(t, "light", id.Domain())
	assert.Equal(t, "living_room", id.Object())
	assert.Equal(t, "light.living_room", id.String())
}

func TestParseEntityIDRoundTrip(t *testing.T) {
	for _, s := range []string{
		"light.kitchen",
		"sensor.temperature",
		"my_light.living_room",
		"light.my__room", // double underscore allowed in object
		"domain1.object2",
	} {
		id, err := ParseEntityID(s)
		require.NoError(t, err, s)

		again, err := ParseEntityID(id.String())
		require.NoError(t, err, s)
		assert.Equal(t, id, again, s)
	}
}

func TestParseEntityIDInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"no_separator",
		"too.many.parts",
		".object",
		"domain.",
		"UPPER.case",
		"light.UPPER",
		"with-dash.object",
		"_light.room",    // leading underscore in domain
		"light_.room",    // trailing underscore in domain
		"light._room",    // leading underscore in object
		"light.room_",    // trailing underscore in object
		"my__light.room", // double underscore in domain
		"light.ro om",
	} {
		_, err := ParseEntityID(s)
		assert.ErrorIs(t, err, ErrInvalidEntityID, "input %q", s)
	}
}

func TestEntityIDJSON(t *testing.T) {
	id := MustEntityID("switch.kitchen")

	raw, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"switch.kitchen"`, string(raw))

	var parsed EntityID
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, id, parsed)

	var bad EntityID
	assert.Error(t, json.Unmarshal([]byte(`"Not.Valid"`), &bad))
}

func TestEntityIDAsMapKey(t *testing.T) {
	a := MustEntityID("light.one")
	b := MustEntityID("light.one")
	m := map[EntityID]int{a: 1}
	assert.Equal(t, 1, m[b])
}
