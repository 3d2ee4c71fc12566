package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("")

	tests := []struct {
		got  string
		want string
	}{
		{topics.Event("doorbell_pressed"), "hearth/event/doorbell_pressed"},
		{topics.AllEvents(), "hearth/event/#"},
		{topics.State("light.kitchen"), "hearth/state/light.kitchen"},
		{topics.AllStates(), "hearth/state/#"},
		{topics.SystemStatus(), "hearth/system/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestTopicsCustomPrefix(t *testing.T) {
	topics := NewTopics("/house-a/")
	if got := topics.Event("alarm"); got != "house-a/event/alarm" {
		t.Errorf("Event() = %q, want house-a/event/alarm", got)
	}
}

func TestEventTypeExtraction(t *testing.T) {
	topics := NewTopics("hearth")

	eventType, ok := topics.EventType("hearth/event/doorbell_pressed")
	if !ok || eventType != "doorbell_pressed" {
		t.Errorf("EventType() = %q, %v; want doorbell_pressed, true", eventType, ok)
	}

	for _, topic := range []string{"hearth/event/", "hearth/state/light.kitchen", "other/event/x"} {
		if _, ok := topics.EventType(topic); ok {
			t.Errorf("EventType(%q) matched, want no match", topic)
		}
	}
}
