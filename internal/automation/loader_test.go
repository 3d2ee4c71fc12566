package automation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleAutomations = `
automations:
  - id: hallway_motion
    alias: Hallway motion light
    triggers:
      - platform: state
        entity_id: binary_sensor.hallway_motion
        to: "on"
    conditions:
      - condition: numeric_state
        entity_id: sensor.hallway_lux
        below: 20
    actions:
      - service: light.turn_on
        target:
          entity_id: light.hallway
      - delay: "00:02"
      - service: light.turn_off
        target:
          entity_id: light.hallway
  - alias: Morning report
    mode: queued
    max: 3
    triggers:
      - platform: time
        at: "07:30"
    actions:
      - event: morning_report
`

func TestParse(t *testing.T) {
	automations, err := Parse([]byte(sampleAutomations))
	require.NoError(t, err)
	require.Len(t, automations, 2)

	first := automations[0]
	require.Equal(t, "hallway_motion", first.ID)
	require.Equal(t, "Hallway motion light", first.Alias)
	require.Len(t, first.Triggers, 1)
	require.Equal(t, "state", first.Triggers[0].Platform)
	require.Len(t, first.Conditions, 1)
	require.Len(t, first.Actions, 3)
	require.NotNil(t, first.Actions[1].Delay)

	second := automations[1]
	require.Empty(t, second.ID)
	require.Equal(t, "queued", second.Mode)
	require.Equal(t, 3, second.Max)
}

func TestParseBareList(t *testing.T) {
	automations, err := Parse([]byte(`
- alias: Bare
  triggers:
    - platform: event
      event_type: ping
  actions:
    - event: pong
`))
	require.NoError(t, err)
	require.Len(t, automations, 1)
	require.Equal(t, "Bare", automations[0].Alias)
}

func TestParseRejectsMissingTriggers(t *testing.T) {
	_, err := Parse([]byte(`
- alias: Broken
  actions:
    - event: pong
`))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNoTriggers))
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("{not: [valid"))
	require.Error(t, err)
}

func TestParseEmptyDocument(t *testing.T) {
	automations, err := Parse(nil)
	require.NoError(t, err)
	require.Empty(t, automations)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleAutomations), 0o600))

	automations, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, automations, 2)
}

func TestLoadFileMissing(t *testing.T) {
	automations, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Empty(t, automations)
}
