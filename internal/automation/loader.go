package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads automation definitions from a YAML file. The file
// holds a list of automations under a top-level "automations" key, or a
// bare list. A missing file is not an error; it returns an empty slice
// so a fresh install boots without one.
//
// YAML aliases like "trigger" for "triggers" are not accepted; the file
// uses the plural keys throughout.
func LoadFile(path string) ([]*Automation, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading automations file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes automation definitions from YAML bytes.
func Parse(raw []byte) ([]*Automation, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing automations: %w", err)
	}
	if doc == nil {
		return nil, nil
	}

	// Accept either a bare list or a document with an "automations" key.
	list := doc
	if m, ok := doc.(map[string]any); ok {
		inner, ok := m["automations"]
		if !ok {
			return nil, errors.New("automation: file must hold a list or an automations key")
		}
		list = inner
	}
	if list == nil {
		return nil, nil
	}

	// Round-trip through JSON so the custom action and condition
	// decoders apply. yaml.Unmarshal into any yields map[string]any,
	// which marshals cleanly.
	encoded, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encoding automations: %w", err)
	}

	var automations []*Automation
	if err := json.Unmarshal(encoded, &automations); err != nil {
		return nil, fmt.Errorf("decoding automations: %w", err)
	}

	for i, a := range automations {
		if a == nil {
			return nil, fmt.Errorf("automation %d is empty", i)
		}
		if len(a.Triggers) == 0 {
			return nil, fmt.Errorf("automation %q: %w", a.Alias, ErrNoTriggers)
		}
	}
	return automations, nil
}
